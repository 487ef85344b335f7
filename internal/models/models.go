package models

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the calendar-date format used for match records.
const DateLayout = "2006-01-02"

// PastMatch records two identities having been paired on a given date.
type PastMatch struct {
	Date   string `json:"date" db:"date"`     // YYYY-MM-DD
	Email1 string `json:"email1" db:"email1"` // lexicographically smaller side
	Email2 string `json:"email2" db:"email2"`
}

// Involves reports whether email is one side of the match.
func (m PastMatch) Involves(email string) bool {
	return m.Email1 == email || m.Email2 == email
}

// Partner returns the other side of the match as seen from email.
func (m PastMatch) Partner(email string) string {
	if m.Email1 == email {
		return m.Email2
	}
	return m.Email1
}

// ParsedDate parses Date. ok is false for malformed dates.
func (m PastMatch) ParsedDate() (t time.Time, ok bool) {
	t, err := time.Parse(DateLayout, m.Date)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Pair is one pairing produced by a run. It is unordered.
type Pair struct {
	A        string `json:"a"`
	B        string `json:"b"`
	Fallback bool   `json:"fallback,omitempty"` // B came from the fallback pool
}

// Canonical returns the pair's sides in lexicographic order.
func (p Pair) Canonical() (string, string) {
	if p.B < p.A {
		return p.B, p.A
	}
	return p.A, p.B
}

// Subscriber is one roster entry from the membership source.
type Subscriber struct {
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	IsBot    bool   `json:"is_bot"`
}

// UserPreference is a user's explicit choice of matching days.
type UserPreference struct {
	Email string `json:"email" db:"email"`
	Days  DaySet `json:"days"`
}

// DaySet is a set of weekdays, Sunday = 0 through Saturday = 6.
type DaySet map[time.Weekday]struct{}

// NewDaySet builds a DaySet from the given weekdays.
func NewDaySet(days ...time.Weekday) DaySet {
	set := make(DaySet, len(days))
	for _, d := range days {
		set[d] = struct{}{}
	}
	return set
}

// Contains reports whether day is in the set.
func (s DaySet) Contains(day time.Weekday) bool {
	_, ok := s[day]
	return ok
}

// Sorted returns the days in ascending order.
func (s DaySet) Sorted() []time.Weekday {
	days := make([]time.Weekday, 0, len(s))
	for d := range s {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
	return days
}

// String renders the set as its stored form, e.g. "135".
func (s DaySet) String() string {
	var b strings.Builder
	for _, d := range s.Sorted() {
		b.WriteString(strconv.Itoa(int(d)))
	}
	return b.String()
}

// MarshalText encodes the set in its stored form.
func (s DaySet) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Describe renders the set for people, e.g. "Monday, Wednesday and Friday".
func (s DaySet) Describe() string {
	days := s.Sorted()
	if len(days) == 0 {
		return "no days"
	}
	names := make([]string, len(days))
	for i, d := range days {
		names[i] = d.String()
	}
	if len(names) == 1 {
		return names[0]
	}
	return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
}

// RunResult summarises one orchestration.
type RunResult struct {
	RunID      string       `json:"run_id"`
	Date       string       `json:"date"`
	Weekday    time.Weekday `json:"weekday"`
	RosterSize int          `json:"roster_size"`
	Eligible   []string     `json:"eligible"`
	Pairs      []Pair       `json:"pairs"`
}

// InboundMessage is a direct message sent to the bot.
type InboundMessage struct {
	SenderEmail    string `json:"sender_email" validate:"required"`
	SenderFullName string `json:"sender_full_name"`
	Content        string `json:"content"`
}

// OutgoingWebhookRequest is the payload Zulip posts for outgoing webhooks.
type OutgoingWebhookRequest struct {
	Token   string         `json:"token"`
	Data    string         `json:"data"`
	Message InboundMessage `json:"message"`
}

// OutgoingWebhookResponse tells Zulip not to post a reply of its own.
type OutgoingWebhookResponse struct {
	ResponseNotRequired bool `json:"response_not_required"`
}

// PreferenceResponse is the payload for a user's current day setting.
type PreferenceResponse struct {
	Email    string `json:"email"`
	Days     string `json:"days"`
	Explicit bool   `json:"explicit"`
}

// MatchesResponse lists recorded matches.
type MatchesResponse struct {
	Matches []PastMatch `json:"matches"`
}

// StatusResponse acknowledges a trigger.
type StatusResponse struct {
	Status string `json:"status"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
