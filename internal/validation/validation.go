package validation

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"coffeebot/internal/models"
)

var daysRegex = regexp.MustCompile(`^[0-6]+$`)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// ParseDays parses a preference string such as "135" into a DaySet.
// Every character must be a digit 0-6. Repeated digits collapse.
func ParseDays(s string) (models.DaySet, error) {
	s = SanitizeString(s)

	if s == "" {
		return nil, &ValidationError{
			Field:   "days",
			Message: "is required",
		}
	}

	if !daysRegex.MatchString(s) {
		return nil, &ValidationError{
			Field:   "days",
			Message: "must only contain digits 0-6 (0 = Sunday)",
		}
	}

	days := models.NewDaySet()
	for _, r := range s {
		days[time.Weekday(r-'0')] = struct{}{}
	}

	return days, nil
}

// ParseStoredDays decodes the coffee_days column. Unlike ParseDays it accepts
// the empty string, which stores a user who opted out of every day.
func ParseStoredDays(s string) (models.DaySet, error) {
	if s == "" {
		return models.NewDaySet(), nil
	}
	return ParseDays(s)
}

// ValidateDays checks that every day in the set is a weekday from Sunday
// through Saturday. An empty set is valid.
func ValidateDays(days models.DaySet) error {
	for d := range days {
		if d < time.Sunday || d > time.Saturday {
			return &ValidationError{
				Field:   "days",
				Message: fmt.Sprintf("%d is not a weekday (0 = Sunday through 6 = Saturday)", int(d)),
			}
		}
	}
	return nil
}

func ValidateEmail(email, fieldName string) error {
	email = SanitizeString(email)

	if email == "" {
		return &ValidationError{
			Field:   fieldName,
			Message: "is required",
		}
	}

	at := strings.IndexByte(email, '@')
	if at <= 0 || at == len(email)-1 || strings.ContainsAny(email, " \t") {
		return &ValidationError{
			Field:   fieldName,
			Message: "must be an email address",
		}
	}

	return nil
}

func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)

	return strings.TrimSpace(s)
}
