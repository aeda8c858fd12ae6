// Command test_imap checks the configured mailbox credentials and reports how
// many unread messages an ingestion run would see. It never fetches, so
// nothing is marked seen.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/luo-one/mailkeeper/internal/config"
	"github.com/luo-one/mailkeeper/internal/logger"
	"github.com/luo-one/mailkeeper/internal/mailbox"
)

func main() {
	var q mailbox.Query
	flag.StringVar(&q.Sender, "sender", "", "restrict to this sender")
	flag.StringVar(&q.Subject, "subject", "", "restrict to subjects containing this text")
	flag.StringVar(&q.Keyword, "keyword", "", "restrict to messages containing this keyword")
	timeout := flag.Duration("timeout", 30*time.Second, "overall probe timeout")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	var creds mailbox.CredentialProvider = mailbox.StaticPassword{Password: cfg.IMAP.Password}
	if cfg.UsesOAuth() {
		creds = mailbox.NewOAuthCredentials(mailbox.OAuthSettings{
			ClientID:     cfg.OAuth.ClientID,
			ClientSecret: cfg.OAuth.ClientSecret,
			RefreshToken: cfg.OAuth.RefreshToken,
			TokenURL:     cfg.OAuth.TokenURL,
			Scopes:       cfg.OAuth.Scopes,
		})
	}

	transport := mailbox.NewIMAPTransport(mailbox.Settings{
		Host:     cfg.IMAP.Host,
		Port:     cfg.IMAP.Port,
		UseTLS:   cfg.IMAP.UseTLS,
		Username: cfg.IMAP.Username,
	}, creds, logger.New(cfg.LogLevel, cfg.LogFormat))

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	log.Printf("Connecting to %s:%d as %s (%s)...", cfg.IMAP.Host, cfg.IMAP.Port, cfg.IMAP.Username, creds.Mechanism())
	session, err := transport.Open(ctx)
	if err != nil {
		log.Fatalf("Connection failed: %v", err)
	}
	defer session.Close()
	log.Println("Authenticated")

	if err := session.SelectMailbox(cfg.IMAP.Mailbox); err != nil {
		log.Fatalf("Select %s failed: %v", cfg.IMAP.Mailbox, err)
	}

	var query *mailbox.Query
	if !q.IsEmpty() {
		query = &q
	}
	uids, err := session.Search(query)
	if err != nil {
		log.Fatalf("Search failed: %v", err)
	}

	fmt.Printf("%s: %d unread message(s) match %s\n", cfg.IMAP.Mailbox, len(uids), q.String())
}
