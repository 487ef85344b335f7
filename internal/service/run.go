package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"coffeebot/internal/eligibility"
	"coffeebot/internal/models"
	"coffeebot/internal/roster"
	"coffeebot/internal/runlock"
	"coffeebot/internal/tracing"
)

const runLockKey = "matching-run"

// Run performs one matching round: it reads the roster, keeps the people due
// today, pairs them, records each pair and notifies both sides. Runs never
// overlap; a second concurrent call returns ErrRunInProgress.
//
// A failure to record a pair stops the round. Pairs recorded before it are
// kept and notified, pairs after it are neither recorded nor notified.
func (s *Service) Run(ctx context.Context) (models.RunResult, error) {
	lock, err := s.locker.Acquire(ctx, runLockKey, s.runTimeout)
	if errors.Is(err, runlock.ErrLockNotAcquired) {
		s.logger.Warn("matching run skipped, another run holds the lock")
		return models.RunResult{}, ErrRunInProgress
	}
	if err != nil {
		return models.RunResult{}, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Error("failed to release run lock", "error", err)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()

	now := s.now().In(s.loc)
	result := models.RunResult{
		RunID:   uuid.New().String(),
		Date:    now.Format(models.DateLayout),
		Weekday: now.Weekday(),
		Pairs:   []models.Pair{},
	}
	log := s.logger.With("run_id", result.RunID, "date", result.Date)

	ctx, span := tracing.StartSpan(ctx, "service.Run")
	defer span.End()
	span.SetAttributes(attribute.String("run.id", result.RunID), attribute.String("run.date", result.Date))

	subscribers, err := s.roster.ListSubscribers(ctx)
	if err != nil {
		log.Error("failed to list roster", "error", err)
		span.RecordError(err)
		return result, fmt.Errorf("failed to list roster: %w", err)
	}
	pool := roster.New(subscribers, s.botEmail)
	if dir, ok := s.roster.(roster.Directory); ok {
		pool.UseDirectory(dir)
	}
	candidates := pool.Emails()
	result.RosterSize = len(candidates)

	prefs, err := s.preferences.GetPreferences(ctx, candidates)
	if err != nil {
		log.Error("failed to load preferences", "error", err)
		span.RecordError(err)
		return result, fmt.Errorf("failed to load preferences: %w", err)
	}
	if prefs == nil {
		prefs = make(map[string]models.DaySet)
	}
	result.Eligible = eligibility.SelectEligibleToday(candidates, result.Weekday, prefs, s.defaultDays)

	history, err := s.matches.PastMatchesInvolving(ctx, result.Eligible)
	if err != nil {
		log.Error("failed to load match history", "error", err)
		span.RecordError(err)
		return result, fmt.Errorf("failed to load match history: %w", err)
	}

	pairs := s.engine.Match(result.Eligible, history)
	log.Info("matched participants",
		"roster", result.RosterSize,
		"eligible", len(result.Eligible),
		"pairs", len(pairs),
	)

	if err := s.loadMissingPreferences(ctx, pairs, prefs); err != nil {
		log.Warn("failed to load fallback preferences", "error", err)
	}

	for _, pair := range pairs {
		if err := s.matches.RecordMatch(ctx, result.Date, pair.A, pair.B); err != nil {
			log.Error("failed to record match", "email_a", pair.A, "email_b", pair.B, "error", err)
			span.RecordError(err)
			return result, fmt.Errorf("failed to record match: %w", err)
		}
		result.Pairs = append(result.Pairs, pair)
		s.events.PublishMatchRecorded(ctx, result.RunID, result.Date, pair)

		s.notifyPartner(ctx, pool, prefs, pair.A, pair.B)
		s.notifyPartner(ctx, pool, prefs, pair.B, pair.A)
	}

	span.SetAttributes(attribute.Int("run.pairs", len(result.Pairs)))
	log.Info("matching run completed", "pairs", len(result.Pairs))
	s.events.PublishRunCompleted(ctx, result)

	return result, nil
}

func (s *Service) notifyPartner(ctx context.Context, pool *roster.Roster, prefs map[string]models.DaySet, to, partner string) {
	days, explicit := eligibility.DaysFor(to, prefs, s.defaultDays)
	s.notifications.Dispatch(ctx, to, matchMessage(pool.DisplayName(partner), days, explicit))
}

// loadMissingPreferences adds the preferences of paired identities that were
// not on the roster, which are fallback partners.
func (s *Service) loadMissingPreferences(ctx context.Context, pairs []models.Pair, prefs map[string]models.DaySet) error {
	var missing []string
	for _, pair := range pairs {
		if !pair.Fallback {
			continue
		}
		if _, ok := prefs[pair.B]; !ok {
			missing = append(missing, pair.B)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	extra, err := s.preferences.GetPreferences(ctx, missing)
	if err != nil {
		return err
	}
	for email, days := range extra {
		prefs[email] = days
	}
	return nil
}
