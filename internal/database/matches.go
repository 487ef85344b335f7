package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/huandu/go-sqlbuilder"

	"coffeebot/internal/models"
)

// ErrSelfMatch is returned when asked to record an identity matched with itself.
var ErrSelfMatch = errors.New("cannot record a match between an identity and itself")

// RecordMatch appends one match to the history. The pair is stored in
// lexicographic order regardless of argument order.
func (db *DB) RecordMatch(ctx context.Context, date, emailA, emailB string) error {
	if emailA == emailB {
		return fmt.Errorf("failed to record match %s/%s on %s: %w", emailA, emailB, date, ErrSelfMatch)
	}
	email1, email2 := models.Pair{A: emailA, B: emailB}.Canonical()

	ib := sqlbuilder.SQLite.NewInsertBuilder()
	ib.InsertInto("matches")
	ib.Cols("date", "email1", "email2")
	ib.Values(date, email1, email2)
	query, args := ib.Build()

	if _, err := db.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to record match %s/%s on %s: %w", email1, email2, date, err)
	}

	return nil
}

// PastMatchesInvolving returns every recorded match where either side is one
// of emails. The result is unordered.
func (db *DB) PastMatchesInvolving(ctx context.Context, emails []string) ([]models.PastMatch, error) {
	matches := []models.PastMatch{}
	if len(emails) == 0 {
		return matches, nil
	}

	args := make([]interface{}, len(emails))
	for i, email := range emails {
		args[i] = email
	}

	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("date", "email1", "email2")
	sb.From("matches")
	sb.Where(sb.Or(
		sb.In("email1", args...),
		sb.In("email2", args...),
	))
	query, queryArgs := sb.Build()

	if err := db.conn.SelectContext(ctx, &matches, query, queryArgs...); err != nil {
		return nil, fmt.Errorf("failed to query past matches: %w", err)
	}

	return matches, nil
}

// ListMatches returns the most recent matches, newest first.
func (db *DB) ListMatches(ctx context.Context, limit int) ([]models.PastMatch, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("date", "email1", "email2")
	sb.From("matches")
	sb.OrderBy("date DESC", "rowid DESC")
	sb.Limit(limit)
	query, args := sb.Build()

	matches := []models.PastMatch{}
	if err := db.conn.SelectContext(ctx, &matches, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list matches: %w", err)
	}

	return matches, nil
}
