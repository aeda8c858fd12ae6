// Package filter decides whether an incoming message is accepted by the
// configured acceptance rules. Conditions inside a rule are ANDed; rules are
// ORed with each other.
package filter

import (
	"errors"
	"strings"

	"github.com/luo-one/mailkeeper/internal/database/models"
)

// ErrInvalidRule marks a rule whose conditions are all blank; such a rule is inert
var ErrInvalidRule = errors.New("filter rule has no usable condition")

// Candidate holds the message fields the rules look at. Absent fields are empty strings.
type Candidate struct {
	Sender  string
	Subject string
	Body    string
}

// Rule is one named acceptance policy. Empty conditions are not part of the rule.
type Rule struct {
	Name            string
	Enabled         bool
	SenderContains  string
	SubjectContains string
	BodyContains    string
}

// IsVacuous reports whether the rule has no configured condition
func (r Rule) IsVacuous() bool {
	return strings.TrimSpace(r.SenderContains) == "" &&
		strings.TrimSpace(r.SubjectContains) == "" &&
		strings.TrimSpace(r.BodyContains) == ""
}

// Validate returns ErrInvalidRule for rules that can never match anything
func (r Rule) Validate() error {
	if r.IsVacuous() {
		return ErrInvalidRule
	}
	return nil
}

// Matches evaluates the conjunction of the rule's configured conditions.
// The caller is expected to have skipped vacuous rules.
func (r Rule) Matches(c Candidate) bool {
	return containsFold(c.Sender, r.SenderContains) &&
		containsFold(c.Subject, r.SubjectContains) &&
		containsFold(c.Body, r.BodyContains)
}

// Accepts reports whether the candidate passes the rule set.
// A set with no enabled rule accepts everything. Otherwise the candidate must
// satisfy at least one enabled, non-vacuous rule.
func Accepts(c Candidate, rules []Rule) bool {
	enabled := 0
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		enabled++
		if r.IsVacuous() {
			continue
		}
		if r.Matches(c) {
			return true
		}
	}
	return enabled == 0
}

// FromModels converts stored filters into rules. Nil conditions become empty.
func FromModels(filters []models.EmailFilter) []Rule {
	rules := make([]Rule, 0, len(filters))
	for _, f := range filters {
		rules = append(rules, Rule{
			Name:            f.Name,
			Enabled:         f.Enabled,
			SenderContains:  deref(f.FromAddress),
			SubjectContains: deref(f.SubjectContains),
			BodyContains:    deref(f.BodyContains),
		})
	}
	return rules
}

// Inert returns the names of enabled rules that will be skipped because they have no condition
func Inert(rules []Rule) []string {
	var names []string
	for _, r := range rules {
		if r.Enabled && r.Validate() != nil {
			names = append(names, r.Name)
		}
	}
	return names
}

// containsFold is a case-insensitive substring test; a blank needle always matches
func containsFold(haystack, needle string) bool {
	needle = strings.TrimSpace(needle)
	if needle == "" {
		return true
	}
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
