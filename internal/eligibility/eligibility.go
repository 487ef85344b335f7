// Package eligibility decides who is due for a coffee chat on a given day.
package eligibility

import (
	"time"

	"coffeebot/internal/models"
)

// SelectEligibleToday returns the candidates that should be matched on today.
// A candidate with an explicit preference is eligible iff today is one of its
// days; one without is eligible iff today is one of defaultDays. The result
// keeps the candidates' order.
func SelectEligibleToday(
	candidates []string,
	today time.Weekday,
	preferences map[string]models.DaySet,
	defaultDays models.DaySet,
) []string {
	eligible := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		days, ok := preferences[candidate]
		if !ok {
			days = defaultDays
		}
		if days.Contains(today) {
			eligible = append(eligible, candidate)
		}
	}
	return eligible
}

// DaysFor returns the day set that applies to email, and whether it came
// from an explicit preference.
func DaysFor(email string, preferences map[string]models.DaySet, defaultDays models.DaySet) (models.DaySet, bool) {
	if days, ok := preferences[email]; ok {
		return days, true
	}
	return defaultDays, false
}
