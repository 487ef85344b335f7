// Package roster narrows the membership source down to matchable people.
package roster

import (
	"context"

	"coffeebot/internal/models"
)

// Source lists the current members of the matching pool.
type Source interface {
	ListSubscribers(ctx context.Context) ([]models.Subscriber, error)
}

// Directory resolves display names for people who may not be in the pool,
// such as fallback partners.
type Directory interface {
	FullName(email string) (string, bool)
}

// Roster is one snapshot of the pool.
type Roster struct {
	subscribers []models.Subscriber
	names       map[string]string
	directory   Directory
}

// New builds a snapshot, dropping bots and the bot's own identity. Repeated
// identities keep their first entry.
func New(subscribers []models.Subscriber, botEmail string) *Roster {
	r := &Roster{names: make(map[string]string, len(subscribers))}
	for _, s := range subscribers {
		if s.IsBot || s.Email == "" || s.Email == botEmail {
			continue
		}
		if _, seen := r.names[s.Email]; seen {
			continue
		}
		r.names[s.Email] = s.FullName
		r.subscribers = append(r.subscribers, s)
	}
	return r
}

// Emails returns the matchable identities in source order.
func (r *Roster) Emails() []string {
	emails := make([]string, len(r.subscribers))
	for i, s := range r.subscribers {
		emails[i] = s.Email
	}
	return emails
}

func (r *Roster) Len() int {
	return len(r.subscribers)
}

// UseDirectory makes DisplayName consult d for identities the roster
// itself has no name for.
func (r *Roster) UseDirectory(d Directory) {
	r.directory = d
}

// DisplayName returns the full name for email, or email itself when the
// name is unknown.
func (r *Roster) DisplayName(email string) string {
	if name := r.names[email]; name != "" {
		return name
	}
	if r.directory != nil {
		if name, ok := r.directory.FullName(email); ok && name != "" {
			return name
		}
	}
	return email
}
