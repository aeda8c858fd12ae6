package mailbox

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/emersion/go-imap"
	id "github.com/emersion/go-imap-id"
	"github.com/emersion/go-imap/client"
)

// Transport opens authenticated mailbox sessions.
type Transport interface {
	Open(ctx context.Context) (Session, error)
}

// Session is one authenticated connection. It is not safe for concurrent use.
type Session interface {
	SelectMailbox(name string) error
	// Search returns the UIDs of unread messages matching q, in ascending order.
	Search(q *Query) ([]uint32, error)
	// Fetch returns the full RFC 5322 bytes of one message and marks it seen.
	Fetch(uid uint32) ([]byte, error)
	Close() error
}

// Settings describes how to reach the IMAP server
type Settings struct {
	Host     string
	Port     int
	UseTLS   bool
	Username string

	DialTimeout    time.Duration
	CommandTimeout time.Duration
	// ClientName is announced through the ID extension when the server supports it
	ClientName    string
	ClientVersion string
}

const (
	defaultDialTimeout    = 10 * time.Second
	defaultCommandTimeout = 5 * time.Minute
)

// IMAPTransport is a Transport backed by an IMAP4rev1 server
type IMAPTransport struct {
	settings Settings
	creds    CredentialProvider
	logger   *slog.Logger
}

// NewIMAPTransport creates a new IMAPTransport
func NewIMAPTransport(settings Settings, creds CredentialProvider, logger *slog.Logger) *IMAPTransport {
	if settings.DialTimeout <= 0 {
		settings.DialTimeout = defaultDialTimeout
	}
	if settings.CommandTimeout <= 0 {
		settings.CommandTimeout = defaultCommandTimeout
	}
	if settings.ClientName == "" {
		settings.ClientName = "Mailkeeper"
	}
	if settings.ClientVersion == "" {
		settings.ClientVersion = "1.0.0"
	}
	return &IMAPTransport{
		settings: settings,
		creds:    creds,
		logger:   logger.With("component", "imap"),
	}
}

// Open dials the server, identifies the client and authenticates.
func (t *IMAPTransport) Open(ctx context.Context) (Session, error) {
	secret, err := t.creds.Token(ctx)
	if err != nil {
		var authErr *AuthError
		if errors.As(err, &authErr) {
			return nil, err
		}
		return nil, &AuthError{Err: err}
	}

	c, err := t.dial(ctx)
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}
	c.Timeout = t.settings.CommandTimeout

	// Some providers refuse LOGIN until the client has identified itself
	if ok, _ := c.Support("ID"); ok {
		idClient := id.NewClient(c)
		if _, err := idClient.ID(id.ID{
			id.FieldName:    t.settings.ClientName,
			id.FieldVersion: t.settings.ClientVersion,
			id.FieldVendor:  t.settings.ClientName,
		}); err != nil {
			t.logger.Debug("IMAP ID command rejected", "error", err)
		}
	}

	if t.creds.Mechanism() == XOAuth2Mechanism {
		err = c.Authenticate(NewXOAuth2Client(t.settings.Username, secret))
	} else {
		err = c.Login(t.settings.Username, secret)
	}
	if err != nil {
		c.Logout()
		return nil, &AuthError{Err: err}
	}

	t.logger.Debug("IMAP session opened", "host", t.settings.Host, "mechanism", t.creds.Mechanism())
	return &imapSession{c: c}, nil
}

func (t *IMAPTransport) dial(ctx context.Context) (*client.Client, error) {
	addr := net.JoinHostPort(t.settings.Host, fmt.Sprintf("%d", t.settings.Port))
	dialer := &net.Dialer{Timeout: t.settings.DialTimeout}

	var (
		conn net.Conn
		err  error
	)
	if t.settings.UseTLS {
		tlsDialer := &tls.Dialer{
			NetDialer: dialer,
			Config:    &tls.Config{ServerName: t.settings.Host},
		}
		conn, err = tlsDialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, err
	}

	c, err := client.New(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

type imapSession struct {
	c *client.Client
}

func (s *imapSession) SelectMailbox(name string) error {
	if _, err := s.c.Select(name, false); err != nil {
		return &TransportError{Op: "select " + name, Err: err}
	}
	return nil
}

func (s *imapSession) Search(q *Query) ([]uint32, error) {
	uids, err := s.c.UidSearch(q.Criteria())
	if err != nil {
		return nil, &TransportError{Op: "search", Err: err}
	}
	return uids, nil
}

func (s *imapSession) Fetch(uid uint32) ([]byte, error) {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	section := &imap.BodySectionName{}
	items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- s.c.UidFetch(seqSet, items, messages)
	}()

	var raw []byte
	var readErr error
	for msg := range messages {
		if msg == nil {
			continue
		}
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		raw, readErr = io.ReadAll(body)
	}

	if err := <-done; err != nil {
		return nil, &TransportError{Op: fmt.Sprintf("fetch uid %d", uid), Err: err}
	}
	if readErr != nil {
		return nil, &TransportError{Op: fmt.Sprintf("fetch uid %d", uid), Err: readErr}
	}
	if raw == nil {
		return nil, &TransportError{Op: fmt.Sprintf("fetch uid %d", uid), Err: errors.New("message not returned by server")}
	}
	return raw, nil
}

func (s *imapSession) Close() error {
	return s.c.Logout()
}
