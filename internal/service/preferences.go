package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"coffeebot/internal/models"
	"coffeebot/internal/validation"
)

// mentionRegex matches a leading "@**Name**" or "@_**Name**" mention, which
// Zulip includes when the bot is addressed from a stream.
var mentionRegex = regexp.MustCompile(`^@_?\*\*[^*]+\*\*\s*`)

// HandleMessage reacts to a direct message. A message consisting only of
// digits 0-6 replaces the sender's day preference and is confirmed; anything
// else gets the help text. Each call sends exactly one reply and writes at
// most once.
func (s *Service) HandleMessage(ctx context.Context, msg models.InboundMessage) error {
	if err := s.validate.Struct(msg); err != nil {
		return &validation.ValidationError{Field: "sender_email", Message: "is required"}
	}
	sender := validation.SanitizeString(msg.SenderEmail)
	content := mentionRegex.ReplaceAllString(validation.SanitizeString(msg.Content), "")
	log := s.logger.With("sender", sender)

	days, err := validation.ParseDays(content)
	if err != nil {
		var verr *validation.ValidationError
		if !errors.As(err, &verr) {
			return err
		}
		log.Debug("unrecognised message, sending help", "reason", verr.Message)
		s.notifications.Dispatch(ctx, sender, s.help(ctx, sender))
		return nil
	}

	if err := s.SetPreference(ctx, sender, days); err != nil {
		return err
	}

	log.Info("preference updated", "days", days.String())
	s.notifications.Dispatch(ctx, sender, confirmationMessage(days))
	return nil
}

// SetPreference replaces the day preference for email.
func (s *Service) SetPreference(ctx context.Context, email string, days models.DaySet) error {
	if err := validation.ValidateEmail(email, "email"); err != nil {
		return err
	}
	if err := s.preferences.SetPreference(ctx, email, days); err != nil {
		s.logger.Error("failed to set preference", "email", email, "error", err)
		return fmt.Errorf("failed to set preference: %w", err)
	}
	s.events.PublishPreferenceUpdated(ctx, email, days)
	return nil
}

// GetPreference returns the days that apply to email, explicit or default.
func (s *Service) GetPreference(ctx context.Context, email string) (models.PreferenceResponse, error) {
	email = strings.TrimSpace(email)
	if err := validation.ValidateEmail(email, "email"); err != nil {
		return models.PreferenceResponse{}, err
	}

	days, explicit, err := s.preferences.GetPreference(ctx, email)
	if err != nil {
		return models.PreferenceResponse{}, fmt.Errorf("failed to get preference: %w", err)
	}
	if !explicit {
		days = s.defaultDays
	}

	return models.PreferenceResponse{
		Email:    email,
		Days:     days.String(),
		Explicit: explicit,
	}, nil
}

// help renders the help text with the sender's current setting. A store
// failure drops the setting rather than the reply.
func (s *Service) help(ctx context.Context, email string) string {
	days, explicit, err := s.preferences.GetPreference(ctx, email)
	if err != nil {
		s.logger.Warn("failed to look up preference for help text", "email", email, "error", err)
		return helpMessage(nil, false, false)
	}
	if !explicit {
		days = s.defaultDays
	}
	return helpMessage(days, explicit, true)
}
