package model

// TextPlainFormatKind selects how text/plain bodies are wrapped.
type TextPlainFormatKind string

const (
	FormatAuto   TextPlainFormatKind = "auto"
	FormatFlowed TextPlainFormatKind = "flowed"
	FormatFixed  TextPlainFormatKind = "fixed"
)

// TextPlainFormat is the email reading format. Width is only meaningful
// for FormatFixed.
type TextPlainFormat struct {
	Kind  TextPlainFormatKind
	Width int
}

// EmailHooks are commands run around message handling.
type EmailHooks struct {
	// PreSend receives the message on stdin before it is sent.
	PreSend string
}

// DefaultSignatureDelim separates the body from the signature.
const DefaultSignatureDelim = "-- \n"

// Account is the general metadata of an account.
type Account struct {
	Name           string
	Email          string
	DisplayName    string
	Default        bool
	Signature      string
	SignatureDelim string
	DownloadsDir   string
	FolderAliases  map[string]string
	ReadingFormat  TextPlainFormat
	Hooks          EmailHooks

	Sync        bool
	SyncDir     string
	SyncFolders SyncFoldersStrategy

	// Backend and Sender name the active protocols, empty for none.
	Backend ProtocolKind
	Sender  ProtocolKind
}

// AccountIdentity is a fully resolved account: its metadata plus one
// configuration per protocol present in the document. It is not modified
// after construction; only token state inside OAuth2 credentials changes.
type AccountIdentity struct {
	Account

	protocols map[ProtocolKind]ProtocolConfig
}

// NewAccountIdentity bundles account metadata with protocol configs.
func NewAccountIdentity(account Account, configs ...ProtocolConfig) *AccountIdentity {
	id := &AccountIdentity{
		Account:   account,
		protocols: make(map[ProtocolKind]ProtocolConfig, len(configs)),
	}
	for _, cfg := range configs {
		id.protocols[cfg.Kind()] = cfg
	}
	return id
}

// ProtocolConfig returns the configuration of kind, if present.
func (a *AccountIdentity) ProtocolConfig(kind ProtocolKind) (ProtocolConfig, bool) {
	cfg, ok := a.protocols[kind]
	return cfg, ok
}

// Protocols returns the kinds present, in ProtocolKinds order.
func (a *AccountIdentity) Protocols() []ProtocolKind {
	var kinds []ProtocolKind
	for _, k := range ProtocolKinds {
		if _, ok := a.protocols[k]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Imap returns the IMAP configuration, if present.
func (a *AccountIdentity) Imap() (*ImapConfig, bool) {
	cfg, ok := a.protocols[KindImap].(*ImapConfig)
	return cfg, ok
}

// Smtp returns the SMTP configuration, if present.
func (a *AccountIdentity) Smtp() (*SmtpConfig, bool) {
	cfg, ok := a.protocols[KindSmtp].(*SmtpConfig)
	return cfg, ok
}

// Maildir returns the Maildir configuration, if present.
func (a *AccountIdentity) Maildir() (*MaildirConfig, bool) {
	cfg, ok := a.protocols[KindMaildir].(*MaildirConfig)
	return cfg, ok
}

// Notmuch returns the notmuch configuration, if present.
func (a *AccountIdentity) Notmuch() (*NotmuchConfig, bool) {
	cfg, ok := a.protocols[KindNotmuch].(*NotmuchConfig)
	return cfg, ok
}

// Sendmail returns the sendmail configuration, if present.
func (a *AccountIdentity) Sendmail() (*SendmailConfig, bool) {
	cfg, ok := a.protocols[KindSendmail].(*SendmailConfig)
	return cfg, ok
}

// Auth returns the authentication of an IMAP or SMTP configuration.
func (a *AccountIdentity) Auth(kind ProtocolKind) (AuthConfig, bool) {
	switch cfg := a.protocols[kind].(type) {
	case *ImapConfig:
		return cfg.Auth, true
	case *SmtpConfig:
		return cfg.Auth, true
	default:
		return AuthConfig{}, false
	}
}
