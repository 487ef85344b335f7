package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/huandu/go-sqlbuilder"

	"coffeebot/internal/models"
	"coffeebot/internal/validation"
)

type userRow struct {
	Email      string `db:"email"`
	CoffeeDays string `db:"coffee_days"`
}

// GetPreferences returns the stored day sets for those of emails that have
// one. Identities without a row are absent from the result.
func (db *DB) GetPreferences(ctx context.Context, emails []string) (map[string]models.DaySet, error) {
	prefs := make(map[string]models.DaySet)
	if len(emails) == 0 {
		return prefs, nil
	}

	args := make([]interface{}, len(emails))
	for i, email := range emails {
		args[i] = email
	}

	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("email", "coffee_days")
	sb.From("users")
	sb.Where(sb.In("email", args...))
	query, queryArgs := sb.Build()

	var rows []userRow
	if err := db.conn.SelectContext(ctx, &rows, query, queryArgs...); err != nil {
		return nil, fmt.Errorf("failed to query preferences: %w", err)
	}

	for _, row := range rows {
		days, err := validation.ParseStoredDays(row.CoffeeDays)
		if err != nil {
			return nil, fmt.Errorf("failed to parse stored days for %s: %w", row.Email, err)
		}
		prefs[row.Email] = days
	}

	return prefs, nil
}

// GetPreference returns the stored day set for one identity. ok is false
// when the identity has no explicit preference.
func (db *DB) GetPreference(ctx context.Context, email string) (models.DaySet, bool, error) {
	var row userRow
	err := db.conn.GetContext(ctx, &row, `SELECT email, coffee_days FROM users WHERE email = ?`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get preference for %s: %w", email, err)
	}

	days, err := validation.ParseStoredDays(row.CoffeeDays)
	if err != nil {
		return nil, false, fmt.Errorf("failed to parse stored days for %s: %w", email, err)
	}

	return days, true, nil
}

// SetPreference creates or replaces the day set for an identity. The
// previous value is overwritten, never merged.
func (db *DB) SetPreference(ctx context.Context, email string, days models.DaySet) error {
	if err := validation.ValidateEmail(email, "email"); err != nil {
		return err
	}
	if err := validation.ValidateDays(days); err != nil {
		return err
	}

	query := `INSERT INTO users (email, coffee_days) VALUES (?, ?)
	ON CONFLICT(email) DO UPDATE SET
		coffee_days = excluded.coffee_days`

	if _, err := db.conn.ExecContext(ctx, query, email, days.String()); err != nil {
		return fmt.Errorf("failed to set preference for %s: %w", email, err)
	}

	return nil
}
