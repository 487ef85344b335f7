package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"coffeebot/internal/events"
	"coffeebot/internal/logger"
	"coffeebot/internal/matching"
	"coffeebot/internal/models"
	"coffeebot/internal/roster"
	"coffeebot/internal/runlock"
)

// ErrRunInProgress is returned when a run is triggered while another holds
// the run lock.
var ErrRunInProgress = errors.New("a matching run is already in progress")

// MatchStore is the match history.
type MatchStore interface {
	RecordMatch(ctx context.Context, date, emailA, emailB string) error
	PastMatchesInvolving(ctx context.Context, emails []string) ([]models.PastMatch, error)
	ListMatches(ctx context.Context, limit int) ([]models.PastMatch, error)
}

// PreferenceStore holds users' explicit day choices.
type PreferenceStore interface {
	GetPreferences(ctx context.Context, emails []string) (map[string]models.DaySet, error)
	GetPreference(ctx context.Context, email string) (models.DaySet, bool, error)
	SetPreference(ctx context.Context, email string, days models.DaySet) error
}

// Dispatcher queues a notification without waiting for delivery.
type Dispatcher interface {
	Dispatch(ctx context.Context, to, body string)
}

// Deps are the collaborators a Service needs. Matches, Preferences, Roster,
// Notifications and Engine are required.
type Deps struct {
	Matches       MatchStore
	Preferences   PreferenceStore
	Roster        roster.Source
	Notifications Dispatcher
	Engine        *matching.Engine
	Locker        runlock.Locker
	Events        *events.Manager
	Logger        *logger.Logger
}

// Options are the per-deployment settings.
type Options struct {
	// BotEmail is excluded from every roster.
	BotEmail    string
	DefaultDays models.DaySet
	// Location decides which calendar day a run belongs to.
	Location   *time.Location
	RunTimeout time.Duration
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Service runs the matching rounds and handles preference messages.
type Service struct {
	matches       MatchStore
	preferences   PreferenceStore
	roster        roster.Source
	notifications Dispatcher
	engine        *matching.Engine
	locker        runlock.Locker
	events        *events.Manager
	logger        *logger.Logger
	validate      *validator.Validate

	botEmail    string
	defaultDays models.DaySet
	loc         *time.Location
	runTimeout  time.Duration
	now         func() time.Time
}

// NewService creates a new service instance.
func NewService(deps Deps, opts Options) (*Service, error) {
	switch {
	case deps.Matches == nil:
		return nil, fmt.Errorf("match store is required")
	case deps.Preferences == nil:
		return nil, fmt.Errorf("preference store is required")
	case deps.Roster == nil:
		return nil, fmt.Errorf("roster source is required")
	case deps.Notifications == nil:
		return nil, fmt.Errorf("notification dispatcher is required")
	case deps.Engine == nil:
		return nil, fmt.Errorf("matching engine is required")
	}

	s := &Service{
		matches:       deps.Matches,
		preferences:   deps.Preferences,
		roster:        deps.Roster,
		notifications: deps.Notifications,
		engine:        deps.Engine,
		locker:        deps.Locker,
		events:        deps.Events,
		logger:        deps.Logger,
		validate:      validator.New(),
		botEmail:      opts.BotEmail,
		defaultDays:   opts.DefaultDays,
		loc:           opts.Location,
		runTimeout:    opts.RunTimeout,
		now:           opts.Now,
	}

	if s.logger == nil {
		s.logger = logger.NewNop()
	}
	if s.locker == nil {
		s.locker = runlock.NewLocalLocker()
	}
	if s.events == nil {
		s.events = events.NewManager(false, s.logger)
	}
	if s.defaultDays == nil {
		s.defaultDays = models.NewDaySet()
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.runTimeout <= 0 {
		s.runTimeout = 5 * time.Minute
	}
	if s.now == nil {
		s.now = time.Now
	}

	return s, nil
}

// ListMatches returns recent match history, newest first.
func (s *Service) ListMatches(ctx context.Context, limit int) ([]models.PastMatch, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}
	return s.matches.ListMatches(ctx, limit)
}
