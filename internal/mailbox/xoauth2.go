package mailbox

import (
	"fmt"

	"github.com/emersion/go-sasl"
)

// XOAuth2Mechanism is the SASL mechanism name used for bearer-token IMAP login.
const XOAuth2Mechanism = "XOAUTH2"

// XOAuth2Response builds the XOAUTH2 initial client response.
func XOAuth2Response(username, accessToken string) []byte {
	return []byte(fmt.Sprintf("user=%s\x01auth=Bearer %s\x01\x01", username, accessToken))
}

// XOAuth2Client implements the SASL XOAUTH2 mechanism
type XOAuth2Client struct {
	Username    string
	AccessToken string
}

var _ sasl.Client = (*XOAuth2Client)(nil)

// NewXOAuth2Client creates a new XOAUTH2 SASL client
func NewXOAuth2Client(username, accessToken string) *XOAuth2Client {
	return &XOAuth2Client{
		Username:    username,
		AccessToken: accessToken,
	}
}

// Start begins the XOAUTH2 authentication
func (c *XOAuth2Client) Start() (mech string, ir []byte, err error) {
	return XOAuth2Mechanism, XOAuth2Response(c.Username, c.AccessToken), nil
}

// Next answers the error challenge with an empty response so the server
// completes the exchange with a tagged NO.
func (c *XOAuth2Client) Next(challenge []byte) (response []byte, err error) {
	return []byte{}, nil
}
