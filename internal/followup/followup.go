// Package followup finds accounts that went quiet and are due a check-in.
//
// A sweep runs on a cron schedule. An account is a candidate when its local
// clock reads the configured hour, its newest user message fell exactly
// InactivityDays local days ago, and no assistant message was stored today.
// Candidates are logged and counted; nothing is sent.
package followup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/haasonsaas/copilot/internal/observability"
	"github.com/haasonsaas/copilot/internal/ratelimit"
	"github.com/haasonsaas/copilot/internal/store"
)

// cronParser accepts standard 5-field expressions, an optional seconds field, and descriptors.
var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// Store is the data the sweep reads.
type Store interface {
	ListAccounts(ctx context.Context) ([]store.Account, error)
	LastMessageAt(ctx context.Context, accountID int64, role store.Role) (time.Time, error)
}

// Config configures a Sweeper.
type Config struct {
	Schedule          string
	LocalHour         int
	InactivityDays    int
	DefaultTimezone   string
	Concurrency       int
	RequestsPerSecond int

	Logger  *slog.Logger
	Metrics *observability.Metrics
	// Now overrides the clock.
	Now func() time.Time
}

// Report summarises one sweep.
type Report struct {
	Evaluated  int
	Candidates []int64
	Errors     int
}

// Sweeper evaluates accounts for follow-up.
type Sweeper struct {
	store    Store
	config   Config
	schedule cron.Schedule
	fallback *time.Location
	logger   *slog.Logger
	metrics  *observability.Metrics
	now      func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// New validates config and creates a Sweeper.
func New(s Store, config Config) (*Sweeper, error) {
	if s == nil {
		return nil, errors.New("store is required")
	}
	if config.Schedule == "" {
		config.Schedule = "0 * * * *"
	}
	schedule, err := cronParser.Parse(config.Schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid follow-up schedule: %w", err)
	}
	if config.InactivityDays <= 0 {
		config.InactivityDays = 7
	}
	if config.LocalHour < 0 || config.LocalHour > 23 {
		return nil, fmt.Errorf("local hour out of range: %d", config.LocalHour)
	}
	if config.DefaultTimezone == "" {
		config.DefaultTimezone = "America/Los_Angeles"
	}
	fallback, err := time.LoadLocation(config.DefaultTimezone)
	if err != nil {
		return nil, fmt.Errorf("default timezone: %w", err)
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 5
	}
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = 10
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Sweeper{
		store:    s,
		config:   config,
		schedule: schedule,
		fallback: fallback,
		logger:   config.Logger.With("component", "followup"),
		metrics:  config.Metrics,
		now:      config.Now,
	}, nil
}

// Start schedules sweeps until Stop is called. Each sweep runs with ctx.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return
	}
	s.cron = cron.New(cron.WithParser(cronParser), cron.WithLocation(time.UTC))
	s.cron.Schedule(s.schedule, cron.FuncJob(func() {
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.ErrorContext(ctx, "follow-up sweep failed", "error", err)
		}
	}))
	s.cron.Start()
	s.logger.Info("follow-up sweeps scheduled", "schedule", s.config.Schedule, "next", s.schedule.Next(s.now()))
}

// Stop halts scheduling and waits for a running sweep or ctx.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep evaluates every account once. Per-account failures are logged and
// counted; only failing to list accounts is returned.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	start := s.now()
	s.logger.InfoContext(ctx, "follow-up sweep started")

	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list accounts: %w", err)
	}

	bucket := ratelimit.NewBucket(ratelimit.Config{
		Enabled:  true,
		Requests: s.config.RequestsPerSecond,
		Window:   time.Second,
	})

	var (
		mu     sync.Mutex
		report Report
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Concurrency)
	for _, account := range accounts {
		account := account
		if err := bucket.Wait(gctx); err != nil {
			break
		}
		g.Go(func() error {
			due, err := s.evaluate(gctx, account, start)
			mu.Lock()
			defer mu.Unlock()
			report.Evaluated++
			switch {
			case err != nil:
				report.Errors++
				s.logger.ErrorContext(gctx, "follow-up evaluation failed", "account_id", account.ID, "error", err)
			case due:
				report.Candidates = append(report.Candidates, account.ID)
				s.metrics.RecordFollowupCandidate()
				s.logger.InfoContext(gctx, "account meets follow-up criteria", "account_id", account.ID)
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return report, err
	}

	s.logger.InfoContext(ctx, "follow-up sweep completed",
		"evaluated", report.Evaluated,
		"candidates", len(report.Candidates),
		"errors", report.Errors,
		"took", s.now().Sub(start).String())
	return report, nil
}

func (s *Sweeper) evaluate(ctx context.Context, account store.Account, now time.Time) (bool, error) {
	loc := s.location(account)
	local := now.In(loc)
	if local.Hour() != s.config.LocalHour {
		return false, nil
	}

	lastUser, err := s.store.LastMessageAt(ctx, account.ID, store.RoleUser)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("last user message: %w", err)
	}
	lastAssistant, err := s.store.LastMessageAt(ctx, account.ID, store.RoleAssistant)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return false, fmt.Errorf("last assistant message: %w", err)
	}
	return Due(local, lastUser, lastAssistant, s.config.InactivityDays), nil
}

func (s *Sweeper) location(account store.Account) *time.Location {
	if account.Timezone == "" {
		return s.fallback
	}
	loc, err := time.LoadLocation(account.Timezone)
	if err != nil {
		s.logger.Warn("unknown account timezone", "account_id", account.ID, "timezone", account.Timezone)
		return s.fallback
	}
	return loc
}

// Due reports whether an account whose clock reads localNow is due a
// follow-up: lastUser fell on the local day inactivityDays ago and
// lastAssistant (zero when none) is not today. Both times are compared in
// localNow's location.
func Due(localNow, lastUser, lastAssistant time.Time, inactivityDays int) bool {
	if lastUser.IsZero() {
		return false
	}
	loc := localNow.Location()
	target := localNow.AddDate(0, 0, -inactivityDays)
	if !sameDay(lastUser.In(loc), target) {
		return false
	}
	return lastAssistant.IsZero() || !sameDay(lastAssistant.In(loc), localNow)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
