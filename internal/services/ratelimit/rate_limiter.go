package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/milhy545/adaptive-router/internal/models"
	"github.com/milhy545/adaptive-router/internal/services/kvstore"

	fiberlog "github.com/gofiber/fiber/v2/log"
)

var (
	errRateExceeded        = errors.New("request rate limit exceeded")
	errDailyLimitExhausted = errors.New("daily request limit exhausted")
)

// record is the persisted limiter state, one JSON document per provider.
type record struct {
	ProviderID       string  `json:"provider_id"`
	TokensRemaining  float64 `json:"tokens_remaining"`
	WindowStartEpoch int64   `json:"window_start_epoch"`
	DailyRemaining   int     `json:"daily_remaining"`
	DailyResetEpoch  int64   `json:"daily_reset_epoch"`
}

// Limiter is a token bucket with an overlaid daily quota for one provider.
// Capacity equals the configured requests-per-minute; tokens refill
// continuously at rpm/60 per second. The daily quota never refills, it only
// resets at the configured UTC hour. State survives restarts through the
// backing store.
type Limiter struct {
	mu sync.Mutex

	providerID   string
	rpm          int
	dailyLimit   int
	maxWait      time.Duration
	resetHourUTC int
	store        kvstore.Store

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	tokens         float64
	lastRefill     time.Time
	dailyRemaining int
	dailyReset     time.Time
}

// New builds the limiter for one provider and restores any persisted state.
// A corrupt or missing record starts a fresh full bucket.
func New(providerID string, cfg models.ProviderConfig, resetHourUTC int, store kvstore.Store) *Limiter {
	l := &Limiter{
		providerID:   providerID,
		rpm:          cfg.RateLimitRpm,
		dailyLimit:   cfg.DailyLimit,
		maxWait:      cfg.MaxWait(),
		resetHourUTC: resetHourUTC,
		store:        store,
		now:          time.Now,
		sleep:        sleepContext,
	}

	now := l.now()
	l.tokens = float64(l.rpm)
	l.lastRefill = now
	l.dailyRemaining = l.dailyLimit
	l.dailyReset = nextDailyReset(now, resetHourUTC)

	l.restore(now)
	return l
}

// SetClock overrides the time and sleep sources. Test hook.
func (l *Limiter) SetClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
	l.sleep = sleep
	l.lastRefill = now()
}

// Acquire takes one request token, waiting at most the configured max wait
// for the next token to refill. It returns a rate limit error when the wait
// would exceed that bound or the daily quota is spent.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return models.NewCancelledError(err)
	}

	l.mu.Lock()

	now := l.now()
	l.refillLocked(now)
	l.rolloverLocked(now)

	if l.dailyLimit > 0 && l.dailyRemaining <= 0 {
		l.mu.Unlock()
		return models.NewRateLimitError(l.providerID, errDailyLimitExhausted)
	}

	if l.rpm > 0 && l.tokens < 1 {
		wait := l.timeToNextTokenLocked()
		if wait > l.maxWait {
			l.mu.Unlock()
			fiberlog.Debugf("RateLimiter: %s throttled, next token in %s exceeds max wait %s",
				l.providerID, wait.Round(time.Millisecond), l.maxWait)
			return models.NewRateLimitError(l.providerID, errRateExceeded)
		}

		sleep := l.sleep
		l.mu.Unlock()
		if err := sleep(ctx, wait); err != nil {
			return models.NewCancelledError(err)
		}
		l.mu.Lock()
		l.refillLocked(l.now())
		if l.tokens < 1 {
			// Another caller raced us to the refilled token.
			l.mu.Unlock()
			return models.NewRateLimitError(l.providerID, errRateExceeded)
		}
	}

	if l.rpm > 0 {
		l.tokens--
	}
	if l.dailyLimit > 0 {
		l.dailyRemaining--
	}
	l.persistLocked(ctx)
	l.mu.Unlock()
	return nil
}

// Refund returns one token taken by an attempt that was cancelled before the
// provider call completed. Cancelled attempts count against no budget.
func (l *Limiter) Refund(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.rpm > 0 {
		l.tokens = math.Min(l.tokens+1, float64(l.rpm))
	}
	if l.dailyLimit > 0 && l.dailyRemaining < l.dailyLimit {
		l.dailyRemaining++
	}
	l.persistLocked(ctx)
}

// Snapshot reports remaining budgets for diagnostics. Negative means
// unlimited.
func (l *Limiter) Snapshot() (rateRemaining, dailyRemaining int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.refillLocked(now)
	l.rolloverLocked(now)

	rateRemaining = -1
	if l.rpm > 0 {
		rateRemaining = int(l.tokens)
	}
	dailyRemaining = -1
	if l.dailyLimit > 0 {
		dailyRemaining = l.dailyRemaining
	}
	return rateRemaining, dailyRemaining
}

func (l *Limiter) refillLocked(now time.Time) {
	if l.rpm <= 0 {
		return
	}
	elapsed := now.Sub(l.lastRefill)
	if elapsed <= 0 {
		// Clock went backwards; re-anchor without granting tokens.
		l.lastRefill = now
		return
	}
	l.tokens = math.Min(l.tokens+elapsed.Seconds()*float64(l.rpm)/60.0, float64(l.rpm))
	l.lastRefill = now
}

func (l *Limiter) rolloverLocked(now time.Time) {
	if !now.Before(l.dailyReset) {
		l.dailyRemaining = l.dailyLimit
		l.dailyReset = nextDailyReset(now, l.resetHourUTC)
	}
}

func (l *Limiter) timeToNextTokenLocked() time.Duration {
	deficit := 1 - l.tokens
	secs := deficit * 60.0 / float64(l.rpm)
	return time.Duration(secs * float64(time.Second))
}

// persistLocked writes the current state through. Persistence failures are
// logged and swallowed so a broken disk never blocks routing.
func (l *Limiter) persistLocked(ctx context.Context) {
	rec := record{
		ProviderID:       l.providerID,
		TokensRemaining:  l.tokens,
		WindowStartEpoch: l.lastRefill.Unix(),
		DailyRemaining:   l.dailyRemaining,
		DailyResetEpoch:  l.dailyReset.Unix(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		fiberlog.Warnf("RateLimiter: %s failed to encode state: %v", l.providerID, err)
		return
	}
	if err := l.store.Put(ctx, l.providerID, data); err != nil && !errors.Is(err, context.Canceled) {
		fiberlog.Warnf("RateLimiter: %s failed to persist state: %v", l.providerID, err)
	}
}

// restore loads persisted state, clamping values into the currently
// configured bounds so config changes take effect immediately.
func (l *Limiter) restore(now time.Time) {
	data, err := l.store.Get(context.Background(), l.providerID)
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			fiberlog.Warnf("RateLimiter: %s failed to load persisted state: %v", l.providerID, err)
		}
		return
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		fiberlog.Warnf("RateLimiter: %s discarding corrupt persisted state: %v", l.providerID, err)
		return
	}

	if l.rpm > 0 {
		l.tokens = math.Min(math.Max(rec.TokensRemaining, 0), float64(l.rpm))
		if ts := time.Unix(rec.WindowStartEpoch, 0); ts.Before(now) {
			l.lastRefill = ts
		}
		l.refillLocked(now)
	}
	if l.dailyLimit > 0 {
		reset := time.Unix(rec.DailyResetEpoch, 0)
		if now.Before(reset) {
			l.dailyRemaining = min(max(rec.DailyRemaining, 0), l.dailyLimit)
			l.dailyReset = reset
		}
	}
	fiberlog.Debugf("RateLimiter: %s restored persisted state", l.providerID)
}

func nextDailyReset(now time.Time, hourUTC int) time.Time {
	utc := now.UTC()
	reset := time.Date(utc.Year(), utc.Month(), utc.Day(), hourUTC, 0, 0, 0, time.UTC)
	if !utc.Before(reset) {
		reset = reset.AddDate(0, 0, 1)
	}
	return reset
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
