package mailbox

import (
	"strings"

	"github.com/emersion/go-imap"
)

// Query narrows a search beyond the base unread selector.
type Query struct {
	Sender  string `json:"sender,omitempty"`
	Subject string `json:"subject,omitempty"`
	Keyword string `json:"keyword,omitempty"`
}

// IsEmpty reports whether the query adds nothing to the unread selector.
func (q *Query) IsEmpty() bool {
	return q == nil ||
		strings.TrimSpace(q.Sender) == "" &&
			strings.TrimSpace(q.Subject) == "" &&
			strings.TrimSpace(q.Keyword) == ""
}

// Criteria builds the IMAP search criteria: UNSEEN plus FROM, SUBJECT and TEXT
// for each override that is set. A nil query searches unread messages only.
func (q *Query) Criteria() *imap.SearchCriteria {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}

	if q == nil {
		return criteria
	}
	if sender := strings.TrimSpace(q.Sender); sender != "" {
		criteria.Header.Add("From", sender)
	}
	if subject := strings.TrimSpace(q.Subject); subject != "" {
		criteria.Header.Add("Subject", subject)
	}
	if keyword := strings.TrimSpace(q.Keyword); keyword != "" {
		criteria.Text = append(criteria.Text, keyword)
	}
	return criteria
}

// String renders the query the way it is logged.
func (q *Query) String() string {
	parts := []string{"UNSEEN"}
	if q == nil {
		return parts[0]
	}
	if s := strings.TrimSpace(q.Sender); s != "" {
		parts = append(parts, `FROM "`+s+`"`)
	}
	if s := strings.TrimSpace(q.Subject); s != "" {
		parts = append(parts, `SUBJECT "`+s+`"`)
	}
	if s := strings.TrimSpace(q.Keyword); s != "" {
		parts = append(parts, `TEXT "`+s+`"`)
	}
	return strings.Join(parts, " ")
}
