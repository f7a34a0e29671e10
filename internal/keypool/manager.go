package keypool

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const DefaultMaxAttempts = 3

type Options struct {
	MaxAttempts    int
	ErrorThreshold int

	// Sleep and Jitter default to a context-aware timer and rand in [0,1s).
	Sleep  func(ctx context.Context, d time.Duration) error
	Jitter func() time.Duration
}

// Manager owns one Pool per provider and runs calls through them.
type Manager struct {
	logger zerolog.Logger

	mu    sync.RWMutex
	pools map[string]*Pool

	maxAttempts int
	threshold   int
	sleep       func(ctx context.Context, d time.Duration) error
	jitter      func() time.Duration
}

func NewManager(logger zerolog.Logger, opts Options) *Manager {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.ErrorThreshold < 1 {
		opts.ErrorThreshold = DefaultErrorThreshold
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if opts.Jitter == nil {
		opts.Jitter = func() time.Duration {
			return time.Duration(rand.Int64N(int64(time.Second)))
		}
	}
	return &Manager{
		logger:      logger,
		pools:       make(map[string]*Pool),
		maxAttempts: opts.MaxAttempts,
		threshold:   opts.ErrorThreshold,
		sleep:       opts.Sleep,
		jitter:      opts.Jitter,
	}
}

// Register creates (or replaces) the pool for provider.
func (m *Manager) Register(provider string, keys []string) error {
	pool, err := NewPool(provider, keys, m.threshold)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.pools[pool.Provider()] = pool
	m.mu.Unlock()
	return nil
}

func (m *Manager) Pool(provider string) (*Pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pool, ok := m.pools[provider]
	if !ok {
		return nil, fmt.Errorf("provider %s: %w", provider, ErrNoKeys)
	}
	return pool, nil
}

func (m *Manager) Providers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.pools))
	for name := range m.pools {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Stats returns masked key stats for every provider, ordered by provider name.
func (m *Manager) Stats() []KeyStat {
	var out []KeyStat
	for _, provider := range m.Providers() {
		pool, err := m.Pool(provider)
		if err != nil {
			continue
		}
		out = append(out, pool.Stats()...)
	}
	return out
}

// Backoff is the wait after a retriable failure of the given 1-based attempt.
func (m *Manager) Backoff(attempt int) time.Duration {
	base := time.Duration(math.Pow(2, float64(attempt))) * time.Second
	return base + m.jitter()
}

// Execute runs op with the next key of provider, rotating keys and retrying
// 429/503 failures with exponential backoff. label identifies the work item
// in errors and logs.
func Execute[T any](ctx context.Context, m *Manager, provider, label string, op func(ctx context.Context, key string) (T, error)) (T, error) {
	var zero T
	if m == nil {
		return zero, fmt.Errorf("key manager is nil")
	}
	pool, err := m.Pool(provider)
	if err != nil {
		return zero, err
	}

	var (
		lastErr  error
		attempts int
	)
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		attempts = attempt
		key := pool.Next()

		value, err := op(ctx, key)
		if err == nil {
			pool.ReportSuccess(key)
			return value, nil
		}
		pool.ReportFailure(key)
		lastErr = err

		status := StatusOf(err)
		event := m.logger.Warn().
			Err(err).
			Str("provider", provider).
			Str("key", Mask(key)).
			Int("attempt", attempt).
			Int("status", status)

		if ctx.Err() != nil || !Retriable(status) || attempt == m.maxAttempts {
			event.Msg("provider call failed")
			break
		}

		delay := m.Backoff(attempt)
		event.Dur("backoff", delay).Msg("provider call failed, retrying with next key")
		if err := m.sleep(ctx, delay); err != nil {
			break
		}
	}

	return zero, &CallError{
		Provider: provider,
		Attempts: attempts,
		Context:  truncateContext(label),
		Status:   StatusOf(lastErr),
		Err:      lastErr,
	}
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
