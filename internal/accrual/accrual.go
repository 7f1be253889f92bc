// Package accrual credits scheduled pseudo-random, time-weighted increments
// to every account through the settlement engine.
package accrual

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"

	"github.com/Klingon-tech/klingnet-custody/internal/ledger"
	klog "github.com/Klingon-tech/klingnet-custody/internal/log"
	"github.com/Klingon-tech/klingnet-custody/pkg/types"
)

const week = 7 * 24 * time.Hour

// Config holds the draw ranges and bonuses.
type Config struct {
	Interval time.Duration

	BaseMin float64
	BaseMax float64
	// SpikeChance is the probability of drawing from the spike range.
	SpikeChance float64
	SpikeMin    float64
	SpikeMax    float64

	// GrowthPerWeek of account age, capped at MaxTimeBonus.
	GrowthPerWeek float64
	MaxTimeBonus  float64
}

// DefaultConfig returns the production ranges.
func DefaultConfig() Config {
	return Config{
		Interval:      time.Minute,
		BaseMin:       0.01,
		BaseMax:       0.05,
		SpikeChance:   0.05,
		SpikeMin:      0.1,
		SpikeMax:      1.0,
		GrowthPerWeek: 0.02,
		MaxTimeBonus:  0.30,
	}
}

// Crediter applies an increment. Implemented by *settlement.Engine.
type Crediter interface {
	Accrue(ctx context.Context, userID string, amount types.Amount, grantID string) (*ledger.Transaction, error)
}

// Accounts lists accounts and their boosters. Implemented by *ledger.Ledger.
type Accounts interface {
	Accounts(ctx context.Context) ([]*ledger.Account, error)
	ActiveMultiplier(ctx context.Context, userID string, now time.Time) (float64, *ledger.BoosterGrant, error)
}

// Result summarizes one tick.
type Result struct {
	Credited int
	Failed   int
	Total    types.Amount
}

// Simulator runs accrual ticks on a schedule.
type Simulator struct {
	cfg      Config
	accounts Accounts
	crediter Crediter
	now      func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand

	mu    sync.Mutex
	sched gocron.Scheduler
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithRand sets the random source.
func WithRand(r *rand.Rand) Option {
	return func(s *Simulator) { s.rng = r }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Simulator) { s.now = now }
}

// New creates a simulator.
func New(cfg Config, accounts Accounts, crediter Crediter, opts ...Option) *Simulator {
	s := &Simulator{
		cfg:      cfg,
		accounts: accounts,
		crediter: crediter,
		now:      time.Now,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TimeBonus returns 1 plus the age multiplier, which grows linearly per
// week and saturates at the configured cap.
func (c Config) TimeBonus(age time.Duration) float64 {
	weeks := age.Hours() / week.Hours()
	m := math.Max(0, math.Min(weeks*c.GrowthPerWeek, c.MaxTimeBonus))
	return 1 + m
}

// Bound is the largest increment possible for a draw range maximum and
// booster multiplier.
func (c Config) Bound(rangeMax, booster float64) float64 {
	return rangeMax * (1 + c.MaxTimeBonus) * math.Max(1, booster)
}

// Draw returns a raw value from the base range, or from the spike range
// with probability SpikeChance.
func (s *Simulator) Draw() float64 {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	lo, hi := s.cfg.BaseMin, s.cfg.BaseMax
	if s.rng.Float64() < s.cfg.SpikeChance {
		lo, hi = s.cfg.SpikeMin, s.cfg.SpikeMax
	}
	return lo + s.rng.Float64()*(hi-lo)
}

// Increment returns the coins credited for an account of the given age
// with the given booster multiplier.
func (s *Simulator) Increment(age time.Duration, booster float64) float64 {
	return s.Draw() * s.cfg.TimeBonus(age) * math.Max(1, booster)
}

// Tick credits every account once. A failure for one account is logged
// and the batch continues.
func (s *Simulator) Tick(ctx context.Context) (Result, error) {
	var res Result
	accts, err := s.accounts.Accounts(ctx)
	if err != nil {
		return res, err
	}
	now := s.now()
	for _, a := range accts {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		amount, err := s.accrueOne(ctx, a, now)
		if err != nil {
			res.Failed++
			klog.Accrual.Warn().Err(err).Str("user", a.UserID).Msg("Accrual failed")
			continue
		}
		res.Credited++
		res.Total += amount
	}
	klog.Accrual.Debug().Int("credited", res.Credited).Int("failed", res.Failed).Str("total", res.Total.String()).Msg("Accrual tick")
	return res, nil
}

func (s *Simulator) accrueOne(ctx context.Context, a *ledger.Account, now time.Time) (types.Amount, error) {
	booster, grant, err := s.accounts.ActiveMultiplier(ctx, a.UserID, now)
	if err != nil {
		return 0, err
	}
	amount := types.FromFloat(s.Increment(a.Age(now), booster))
	if amount == 0 {
		return 0, nil
	}
	var grantID string
	if grant != nil && grant.OneShot {
		grantID = grant.ID
	}
	if _, err := s.crediter.Accrue(ctx, a.UserID, amount, grantID); err != nil {
		return 0, err
	}
	return amount, nil
}

// Start schedules Tick every Interval. Ticks never overlap.
func (s *Simulator) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sched != nil {
		return nil
	}

	sched, err := gocron.NewScheduler(gocron.WithLogger(schedLogger{klog.Accrual}))
	if err != nil {
		return err
	}
	_, err = sched.NewJob(
		gocron.DurationJob(s.cfg.Interval),
		gocron.NewTask(func() {
			if _, err := s.Tick(ctx); err != nil {
				klog.Accrual.Error().Err(err).Msg("Accrual tick failed")
			}
		}),
		gocron.WithName("accrual"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return err
	}
	sched.Start()
	s.sched = sched
	klog.Accrual.Info().Dur("interval", s.cfg.Interval).Msg("Accrual scheduler started")
	return nil
}

// Stop shuts the scheduler down, waiting for a running tick.
func (s *Simulator) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sched == nil {
		return nil
	}
	err := s.sched.Shutdown()
	s.sched = nil
	return err
}

// schedLogger adapts zerolog to gocron's logger.
type schedLogger struct {
	l zerolog.Logger
}

func (s schedLogger) Debug(msg string, args ...any) { s.l.Debug().Fields(args).Msg(msg) }
func (s schedLogger) Info(msg string, args ...any)  { s.l.Debug().Fields(args).Msg(msg) }
func (s schedLogger) Warn(msg string, args ...any)  { s.l.Warn().Fields(args).Msg(msg) }
func (s schedLogger) Error(msg string, args ...any) { s.l.Error().Fields(args).Msg(msg) }
