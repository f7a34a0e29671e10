package keypool

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"horse.fit/narrative/internal/globaltime"
)

// DefaultErrorThreshold is the number of consecutive failures after which a
// key is skipped by Next.
const DefaultErrorThreshold = 5

var ErrNoKeys = errors.New("no api keys configured")

type keyState struct {
	value             string
	usage             int64
	consecutiveErrors int
	lastUsedAt        time.Time
	lastErrorAt       time.Time
}

// Pool rotates over the credentials of a single provider.
type Pool struct {
	mu        sync.Mutex
	provider  string
	keys      []*keyState
	index     map[string]*keyState
	cursor    int
	threshold int
	resets    int64
}

func NewPool(provider string, keys []string, threshold int) (*Pool, error) {
	provider = strings.TrimSpace(provider)
	if provider == "" {
		return nil, fmt.Errorf("provider name is required")
	}
	if threshold < 1 {
		threshold = DefaultErrorThreshold
	}

	p := &Pool{
		provider:  provider,
		index:     make(map[string]*keyState, len(keys)),
		cursor:    -1,
		threshold: threshold,
	}
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if _, exists := p.index[key]; exists {
			continue
		}
		state := &keyState{value: key}
		p.keys = append(p.keys, state)
		p.index[key] = state
	}
	if len(p.keys) == 0 {
		return nil, fmt.Errorf("provider %s: %w", provider, ErrNoKeys)
	}
	return p, nil
}

func (p *Pool) Provider() string {
	return p.provider
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}

// Next advances the cursor and returns the first key below the error threshold.
// When a full cycle finds none, every error counter is cleared and the first
// key is returned.
func (p *Pool) Next() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	for step := 0; step < len(p.keys); step++ {
		p.cursor = (p.cursor + 1) % len(p.keys)
		if p.keys[p.cursor].consecutiveErrors < p.threshold {
			return p.keys[p.cursor].value
		}
	}

	for _, state := range p.keys {
		state.consecutiveErrors = 0
	}
	p.resets++
	p.cursor = 0
	return p.keys[0].value
}

func (p *Pool) ReportSuccess(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	state, ok := p.index[key]
	if !ok {
		return
	}
	state.consecutiveErrors = 0
	state.usage++
	state.lastUsedAt = globaltime.UTC()
}

func (p *Pool) ReportFailure(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	state, ok := p.index[key]
	if !ok {
		return
	}
	now := globaltime.UTC()
	state.consecutiveErrors++
	state.lastUsedAt = now
	state.lastErrorAt = now
}

// KeyStat is a masked view of one credential, safe to log or serve.
type KeyStat struct {
	Provider          string     `json:"provider"`
	Key               string     `json:"key"`
	Usage             int64      `json:"usage"`
	ConsecutiveErrors int        `json:"consecutive_errors"`
	Quarantined       bool       `json:"quarantined"`
	LastUsedAt        *time.Time `json:"last_used_at,omitempty"`
	LastErrorAt       *time.Time `json:"last_error_at,omitempty"`
}

func (p *Pool) Stats() []KeyStat {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]KeyStat, 0, len(p.keys))
	for _, state := range p.keys {
		out = append(out, KeyStat{
			Provider:          p.provider,
			Key:               Mask(state.value),
			Usage:             state.usage,
			ConsecutiveErrors: state.consecutiveErrors,
			Quarantined:       state.consecutiveErrors >= p.threshold,
			LastUsedAt:        timePtr(state.lastUsedAt),
			LastErrorAt:       timePtr(state.lastErrorAt),
		})
	}
	return out
}

// Mask keeps only the last four characters of a key.
func Mask(key string) string {
	runes := []rune(key)
	if len(runes) <= 4 {
		return "…"
	}
	return "…" + string(runes[len(runes)-4:])
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	v := t
	return &v
}
