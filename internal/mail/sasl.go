package mail

import (
	"encoding/json"
	"fmt"
	"net/smtp"

	"github.com/emersion/go-sasl"

	"github.com/gl-yziquel/himalaya/internal/oauth"
)

// XOAuth2 is the SASL mechanism name of Google's XOAUTH2.
const XOAuth2 = "XOAUTH2"

// XOAuth2Error is the JSON error a server sends back on a failed XOAUTH2
// exchange.
type XOAuth2Error struct {
	Status  string `json:"status"`
	Schemes string `json:"schemes"`
	Scope   string `json:"scope"`
}

func (e *XOAuth2Error) Error() string {
	return fmt.Sprintf("XOAUTH2 authentication error (%v)", e.Status)
}

type xoauth2Client struct {
	username string
	token    string
}

func (a *xoauth2Client) Start() (mech string, ir []byte, err error) {
	return XOAuth2, []byte("user=" + a.username + "\x01auth=Bearer " + a.token + "\x01\x01"), nil
}

func (a *xoauth2Client) Next(challenge []byte) ([]byte, error) {
	xoauth2Err := &XOAuth2Error{}
	if err := json.Unmarshal(challenge, xoauth2Err); err != nil {
		return nil, err
	}
	return nil, xoauth2Err
}

// NewXOAuth2Client implements the XOAUTH2 mechanism described in
// https://developers.google.com/gmail/xoauth2_protocol.
func NewXOAuth2Client(username, token string) sasl.Client {
	return &xoauth2Client{username: username, token: token}
}

// BearerClient returns the SASL client of the given OAuth2 method.
func BearerClient(method oauth.Method, username, token, host string, port int) sasl.Client {
	if method == oauth.OAuthBearer {
		return sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
			Username: username,
			Token:    token,
			Host:     host,
			Port:     port,
		})
	}
	return NewXOAuth2Client(username, token)
}

// smtpAuth adapts a SASL client to net/smtp.
type smtpAuth struct {
	client sasl.Client
}

// SMTPAuth wraps a SASL client so it can be passed to smtp.Client.Auth.
func SMTPAuth(client sasl.Client) smtp.Auth {
	return &smtpAuth{client: client}
}

func (a *smtpAuth) Start(_ *smtp.ServerInfo) (string, []byte, error) {
	return a.client.Start()
}

func (a *smtpAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if !more {
		return nil, nil
	}
	return a.client.Next(fromServer)
}
