package mailbox

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// CredentialProvider yields the secret used to authenticate a session.
type CredentialProvider interface {
	// Mechanism is XOAuth2Mechanism for bearer tokens or "LOGIN" for passwords.
	Mechanism() string
	Token(ctx context.Context) (string, error)
}

// StaticPassword authenticates with IMAP LOGIN.
type StaticPassword struct {
	Password string
}

func (p StaticPassword) Mechanism() string { return "LOGIN" }

func (p StaticPassword) Token(ctx context.Context) (string, error) {
	if p.Password == "" {
		return "", &AuthError{Err: errors.New("no password configured")}
	}
	return p.Password, nil
}

// OAuthSettings configures the refresh-token exchange.
type OAuthSettings struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	// TokenURL overrides the Google token endpoint when set
	TokenURL string
	Scopes   []string
}

// OAuthCredentials exchanges a long-lived refresh token for access tokens,
// caching each access token until it expires.
type OAuthCredentials struct {
	source oauth2.TokenSource
}

// NewOAuthCredentials creates a provider backed by an oauth2 refresh-token source
func NewOAuthCredentials(settings OAuthSettings) *OAuthCredentials {
	conf := &oauth2.Config{
		ClientID:     settings.ClientID,
		ClientSecret: settings.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       settings.Scopes,
	}
	if settings.TokenURL != "" {
		conf.Endpoint.TokenURL = settings.TokenURL
	}

	seed := &oauth2.Token{RefreshToken: settings.RefreshToken}
	return &OAuthCredentials{
		source: oauth2.ReuseTokenSource(nil, conf.TokenSource(context.Background(), seed)),
	}
}

func (o *OAuthCredentials) Mechanism() string { return XOAuth2Mechanism }

// Token returns a valid access token, refreshing it when needed.
func (o *OAuthCredentials) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	tok, err := o.source.Token()
	if err != nil {
		return "", &AuthError{Err: fmt.Errorf("refresh access token: %w", err)}
	}
	if tok.AccessToken == "" {
		return "", &AuthError{Err: errors.New("token endpoint returned an empty access token")}
	}
	return tok.AccessToken, nil
}
