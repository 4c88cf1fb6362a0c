package model

// ProtocolKind identifies a backend or sender protocol.
type ProtocolKind string

const (
	KindImap     ProtocolKind = "imap"
	KindSmtp     ProtocolKind = "smtp"
	KindMaildir  ProtocolKind = "maildir"
	KindNotmuch  ProtocolKind = "notmuch"
	KindSendmail ProtocolKind = "sendmail"
)

// ProtocolKinds lists every kind in document order.
var ProtocolKinds = []ProtocolKind{KindImap, KindSmtp, KindMaildir, KindNotmuch, KindSendmail}

// IsBackend reports whether the kind reads mail.
func (k ProtocolKind) IsBackend() bool {
	return k == KindImap || k == KindMaildir || k == KindNotmuch
}

// IsSender reports whether the kind sends mail.
func (k ProtocolKind) IsSender() bool {
	return k == KindSmtp || k == KindSendmail
}

// ProtocolConfig is the resolved configuration of one protocol.
type ProtocolConfig interface {
	Kind() ProtocolKind
}

// ImapConfig holds the IMAP connection settings.
type ImapConfig struct {
	Host     string
	Port     int
	SSL      bool
	StartTLS bool
	Insecure bool
	Login    string
	Auth     AuthConfig

	// NotifyCmd is run for each new message by the notify command.
	NotifyCmd string

	// NotifyQuery is the IMAP search used to find new messages.
	NotifyQuery string

	// WatchCmds are run on every mailbox change by the watch command.
	WatchCmds []string
}

func (*ImapConfig) Kind() ProtocolKind { return KindImap }

// SmtpConfig holds the SMTP connection settings.
type SmtpConfig struct {
	Host     string
	Port     int
	SSL      bool
	StartTLS bool
	Insecure bool
	Login    string
	Auth     AuthConfig
}

func (*SmtpConfig) Kind() ProtocolKind { return KindSmtp }

// MaildirConfig points at a local Maildir tree.
type MaildirConfig struct {
	RootDir string
}

func (*MaildirConfig) Kind() ProtocolKind { return KindMaildir }

// NotmuchConfig points at a notmuch database.
type NotmuchConfig struct {
	DBPath string
}

func (*NotmuchConfig) Kind() ProtocolKind { return KindNotmuch }

// SendmailConfig holds the command messages are piped into.
type SendmailConfig struct {
	Cmd string
}

func (*SendmailConfig) Kind() ProtocolKind { return KindSendmail }

// DefaultSendmailCmd is used when sender = "sendmail" has no command.
const DefaultSendmailCmd = "/usr/sbin/sendmail"

// DefaultPort returns the conventional port of an IMAP or SMTP server
// for the given TLS mode.
func DefaultPort(kind ProtocolKind, ssl, starttls bool) int {
	switch kind {
	case KindImap:
		if ssl && !starttls {
			return 993
		}
		return 143
	case KindSmtp:
		if ssl && !starttls {
			return 465
		}
		return 587
	default:
		return 0
	}
}
