package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDaySet_String(t *testing.T) {
	assert.Equal(t, "", NewDaySet().String())
	assert.Equal(t, "135", NewDaySet(time.Friday, time.Monday, time.Wednesday, time.Monday).String())
	assert.Equal(t, "06", NewDaySet(time.Saturday, time.Sunday).String())
}

func TestDaySet_Describe(t *testing.T) {
	tests := []struct {
		days DaySet
		want string
	}{
		{NewDaySet(), "no days"},
		{NewDaySet(time.Sunday), "Sunday"},
		{NewDaySet(time.Friday, time.Monday), "Monday and Friday"},
		{NewDaySet(time.Monday, time.Wednesday, time.Friday), "Monday, Wednesday and Friday"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.days.Describe())
	}
}

func TestDaySet_MarshalsAsDigits(t *testing.T) {
	b, err := json.Marshal(UserPreference{Email: "ada@example.com", Days: NewDaySet(time.Tuesday, time.Thursday)})
	assert.NoError(t, err)
	assert.JSONEq(t, `{"email":"ada@example.com","days":"24"}`, string(b))
}

func TestPair_Canonical(t *testing.T) {
	a, b := Pair{A: "zed@example.com", B: "ada@example.com"}.Canonical()
	assert.Equal(t, "ada@example.com", a)
	assert.Equal(t, "zed@example.com", b)
}

func TestPastMatch(t *testing.T) {
	m := PastMatch{Date: "2026-10-15", Email1: "ada@example.com", Email2: "bob@example.com"}

	assert.True(t, m.Involves("bob@example.com"))
	assert.False(t, m.Involves("cy@example.com"))
	assert.Equal(t, "ada@example.com", m.Partner("bob@example.com"))

	at, ok := m.ParsedDate()
	assert.True(t, ok)
	assert.Equal(t, time.Thursday, at.Weekday())

	_, ok = PastMatch{Date: "15/10/2026"}.ParsedDate()
	assert.False(t, ok)
}
