package service

import (
	"fmt"

	"coffeebot/internal/models"
)

const formatHint = "Send me the days you'd like to be matched on as digits, " +
	"where 0 is Sunday, 1 is Monday and so on up to 6 for Saturday. " +
	"For example, `135` means Monday, Wednesday and Friday."

func matchMessage(partnerName string, days models.DaySet, explicit bool) string {
	return fmt.Sprintf("Hi there! You're having coffee (or tea, or a walk, or whatever you fancy) with @**%s** today - enjoy!\n\n"+
		"You're currently matched on %s. %s",
		partnerName, describeDays(days, explicit), formatHint)
}

func confirmationMessage(days models.DaySet) string {
	return fmt.Sprintf("Got it! From now on you'll be matched on %s.", days.Describe())
}

func helpMessage(days models.DaySet, explicit, known bool) string {
	msg := "Hi! I pair people up for coffee chats. " + formatHint
	if known {
		msg += fmt.Sprintf("\n\nYou're currently matched on %s.", describeDays(days, explicit))
	}
	return msg
}

func describeDays(days models.DaySet, explicit bool) string {
	if explicit {
		return days.Describe()
	}
	return days.Describe() + " (the default)"
}
