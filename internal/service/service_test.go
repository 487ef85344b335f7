package service

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coffeebot/internal/database"
	"coffeebot/internal/logger"
	"coffeebot/internal/matching"
	"coffeebot/internal/models"
	"coffeebot/internal/runlock"
)

const (
	botEmail      = "coffee-bot@example.com"
	fallbackEmail = "fallback@example.com"
)

// 2026-10-15 is a Thursday.
var thursday = time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

type message struct {
	to, body string
}

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []message
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, to, body string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, message{to: to, body: body})
}

func (d *recordingDispatcher) to(email string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var bodies []string
	for _, m := range d.sent {
		if m.to == email {
			bodies = append(bodies, m.body)
		}
	}
	return bodies
}

type rosterFunc func(ctx context.Context) ([]models.Subscriber, error)

func (f rosterFunc) ListSubscribers(ctx context.Context) ([]models.Subscriber, error) {
	return f(ctx)
}

func staticRoster(subs ...models.Subscriber) rosterFunc {
	return func(context.Context) ([]models.Subscriber, error) { return subs, nil }
}

// flakyStore fails RecordMatch from the failAt-th call on.
type flakyStore struct {
	*database.DB
	calls  int
	failAt int
}

func (s *flakyStore) RecordMatch(ctx context.Context, date, a, b string) error {
	s.calls++
	if s.calls >= s.failAt {
		return errors.New("disk full")
	}
	return s.DB.RecordMatch(ctx, date, a, b)
}

type testEnv struct {
	svc        *Service
	db         *database.DB
	dispatcher *recordingDispatcher
}

type envOption func(*Deps, *Options)

func withRoster(src rosterFunc) envOption {
	return func(d *Deps, _ *Options) { d.Roster = src }
}

func setupTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "coffee.db"), logger.NewNop())
	require.NoError(t, err, "Failed to create test database")
	t.Cleanup(func() { db.Close() })

	dispatcher := &recordingDispatcher{}
	deps := Deps{
		Matches:       db,
		Preferences:   db,
		Roster:        staticRoster(),
		Notifications: dispatcher,
		Engine:        matching.NewEngine([]string{fallbackEmail}, nil),
		Logger:        logger.NewNop(),
	}
	options := Options{
		BotEmail:    botEmail,
		DefaultDays: models.NewDaySet(time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday),
		Now:         func() time.Time { return thursday },
	}
	for _, opt := range opts {
		opt(&deps, &options)
	}

	svc, err := NewService(deps, options)
	require.NoError(t, err)

	return &testEnv{svc: svc, db: db, dispatcher: dispatcher}
}

func people(names ...string) []models.Subscriber {
	subs := make([]models.Subscriber, len(names))
	for i, name := range names {
		subs[i] = models.Subscriber{
			Email:    strings.ToLower(name) + "@example.com",
			FullName: name,
		}
	}
	return subs
}

// nameOf inverts people for example.com identities.
func nameOf(email string) string {
	local := strings.TrimSuffix(email, "@example.com")
	return strings.ToUpper(local[:1]) + local[1:]
}

func TestRun_PairsEveryoneAndNotifiesBothSides(t *testing.T) {
	subs := append(people("Ada", "Bob", "Cy", "Dee"),
		models.Subscriber{Email: botEmail, FullName: "Coffee Bot", IsBot: true},
		models.Subscriber{Email: "other-bot@example.com", FullName: "Other Bot", IsBot: true},
	)
	env := setupTestEnv(t, withRoster(staticRoster(subs...)))
	ctx := context.Background()

	result, err := env.svc.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, "2026-10-15", result.Date)
	assert.Equal(t, time.Thursday, result.Weekday)
	assert.Equal(t, 4, result.RosterSize)
	assert.ElementsMatch(t, []string{"ada@example.com", "bob@example.com", "cy@example.com", "dee@example.com"}, result.Eligible)
	require.Len(t, result.Pairs, 2)
	assert.NotEmpty(t, result.RunID)

	stored, err := env.db.ListMatches(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
	for _, m := range stored {
		assert.Equal(t, "2026-10-15", m.Date)
		assert.Less(t, m.Email1, m.Email2)
	}

	assert.Len(t, env.dispatcher.sent, 4)
	assert.Empty(t, env.dispatcher.to(botEmail))
	for _, pair := range result.Pairs {
		toA := env.dispatcher.to(pair.A)
		require.Len(t, toA, 1)
		assert.Contains(t, toA[0], "with @**"+nameOf(pair.B)+"** today - enjoy!")
		assert.Contains(t, toA[0], "Monday, Tuesday, Wednesday, Thursday and Friday (the default)")
	}
}

func TestRun_HonoursPreferences(t *testing.T) {
	env := setupTestEnv(t, withRoster(staticRoster(people("Ada", "Bob", "Cy")...)))
	ctx := context.Background()

	require.NoError(t, env.db.SetPreference(ctx, "ada@example.com", models.NewDaySet(time.Monday)))
	require.NoError(t, env.db.SetPreference(ctx, "cy@example.com", models.NewDaySet(time.Thursday, time.Saturday)))

	result, err := env.svc.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"bob@example.com", "cy@example.com"}, result.Eligible)
	require.Len(t, result.Pairs, 1)
	assert.False(t, result.Pairs[0].Fallback)
	assert.Empty(t, env.dispatcher.to("ada@example.com"))

	toCy := env.dispatcher.to("cy@example.com")
	require.Len(t, toCy, 1)
	assert.Contains(t, toCy[0], "@**Bob**")
	assert.Contains(t, toCy[0], "matched on Thursday and Saturday.")
}

func TestRun_OddParticipantGetsFallback(t *testing.T) {
	env := setupTestEnv(t, withRoster(staticRoster(people("Ada", "Bob", "Cy")...)))
	ctx := context.Background()

	result, err := env.svc.Run(ctx)
	require.NoError(t, err)
	require.Len(t, result.Pairs, 2)

	var fallbackPair models.Pair
	for _, p := range result.Pairs {
		if p.Fallback {
			fallbackPair = p
		}
	}
	require.Equal(t, fallbackEmail, fallbackPair.B)

	toFallback := env.dispatcher.to(fallbackEmail)
	require.Len(t, toFallback, 1)
	assert.Contains(t, toFallback[0], "@**"+nameOf(fallbackPair.A)+"**")

	toLoner := env.dispatcher.to(fallbackPair.A)
	require.Len(t, toLoner, 1)
	assert.Contains(t, toLoner[0], "@**"+fallbackEmail+"**", "unknown names fall back to the identity")

	history, err := env.db.PastMatchesInvolving(ctx, []string{fallbackEmail})
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

// directoryRoster is a roster source that also knows names from a wider
// user directory.
type directoryRoster struct {
	rosterFunc
	names map[string]string
}

func (d directoryRoster) FullName(email string) (string, bool) {
	name, ok := d.names[email]
	return name, ok
}

func TestRun_FallbackNamedFromDirectory(t *testing.T) {
	src := directoryRoster{
		rosterFunc: staticRoster(people("Ada", "Bob", "Cy")...),
		names:      map[string]string{fallbackEmail: "Alicia Fallback"},
	}
	env := setupTestEnv(t, func(d *Deps, _ *Options) { d.Roster = src })

	result, err := env.svc.Run(context.Background())
	require.NoError(t, err)

	var loner string
	for _, p := range result.Pairs {
		if p.Fallback {
			loner = p.A
		}
	}
	require.NotEmpty(t, loner)

	toLoner := env.dispatcher.to(loner)
	require.Len(t, toLoner, 1)
	assert.Contains(t, toLoner[0], "@**Alicia Fallback**")
}

func TestRun_NobodyEligible(t *testing.T) {
	saturday := thursday.AddDate(0, 0, 2)
	env := setupTestEnv(t,
		withRoster(staticRoster(people("Ada", "Bob")...)),
		func(_ *Deps, o *Options) { o.Now = func() time.Time { return saturday } },
	)

	result, err := env.svc.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Eligible)
	assert.Empty(t, result.Pairs)
	assert.Empty(t, env.dispatcher.sent)
}

func TestRun_UsesConfiguredTimezone(t *testing.T) {
	lateThursday := time.Date(2026, 10, 15, 23, 30, 0, 0, time.UTC)
	env := setupTestEnv(t,
		withRoster(staticRoster(people("Ada", "Bob")...)),
		func(_ *Deps, o *Options) {
			o.Now = func() time.Time { return lateThursday }
			o.Location = time.FixedZone("UTC+9", 9*60*60)
		},
	)

	result, err := env.svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2026-10-16", result.Date)
	assert.Equal(t, time.Friday, result.Weekday)
}

func TestRun_RosterFailureAborts(t *testing.T) {
	env := setupTestEnv(t, withRoster(func(context.Context) ([]models.Subscriber, error) {
		return nil, errors.New("zulip unavailable")
	}))
	ctx := context.Background()

	_, err := env.svc.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zulip unavailable")

	stored, err := env.db.ListMatches(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, stored)
	assert.Empty(t, env.dispatcher.sent)
}

func TestRun_RecordFailureStopsPersistence(t *testing.T) {
	var store *flakyStore
	env := setupTestEnv(t,
		withRoster(staticRoster(people("Ada", "Bob", "Cy", "Dee")...)),
		func(d *Deps, _ *Options) {
			store = &flakyStore{DB: d.Matches.(*database.DB), failAt: 2}
			d.Matches = store
		},
	)
	ctx := context.Background()

	result, err := env.svc.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	require.Len(t, result.Pairs, 1)

	stored, err := env.db.ListMatches(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, stored, 1)

	assert.Len(t, env.dispatcher.sent, 2, "only the persisted pair is notified")
	assert.Len(t, env.dispatcher.to(result.Pairs[0].A), 1)
	assert.Len(t, env.dispatcher.to(result.Pairs[0].B), 1)
}

func TestRun_RejectsConcurrentRun(t *testing.T) {
	locker := runlock.NewLocalLocker()
	called := false
	env := setupTestEnv(t,
		withRoster(func(context.Context) ([]models.Subscriber, error) {
			called = true
			return nil, nil
		}),
		func(d *Deps, _ *Options) { d.Locker = locker },
	)
	ctx := context.Background()

	held, err := locker.Acquire(ctx, runLockKey, time.Minute)
	require.NoError(t, err)

	_, err = env.svc.Run(ctx)
	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.False(t, called)

	require.NoError(t, held.Release(ctx))
	_, err = env.svc.Run(ctx)
	assert.NoError(t, err)
	assert.True(t, called)
}

func TestRun_ReleasesLockAfterFailure(t *testing.T) {
	env := setupTestEnv(t, withRoster(func(context.Context) ([]models.Subscriber, error) {
		return nil, errors.New("boom")
	}))

	_, err := env.svc.Run(context.Background())
	require.Error(t, err)
	_, err = env.svc.Run(context.Background())
	assert.NotErrorIs(t, err, ErrRunInProgress)
}

func TestRun_AvoidsRecentPartnersAcrossRuns(t *testing.T) {
	env := setupTestEnv(t, withRoster(staticRoster(people("Ada", "Bob")...)))
	ctx := context.Background()

	first, err := env.svc.Run(ctx)
	require.NoError(t, err)
	second, err := env.svc.Run(ctx)
	require.NoError(t, err)

	require.Len(t, first.Pairs, 1)
	require.Len(t, second.Pairs, 1)
	a1, b1 := first.Pairs[0].Canonical()
	a2, b2 := second.Pairs[0].Canonical()
	assert.Equal(t, []string{a1, b1}, []string{a2, b2}, "with only two people a rematch is forced")

	history, err := env.db.PastMatchesInvolving(ctx, []string{"ada@example.com"})
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestNewService_RequiresCollaborators(t *testing.T) {
	_, err := NewService(Deps{}, Options{})
	assert.Error(t, err)
}
