// Package globaltime is the process clock. Tests pin or advance it instead of
// sleeping.
package globaltime

import (
	"sync"
	"time"
)

var (
	mu      sync.RWMutex
	nowFunc = time.Now
	offset  time.Duration
)

func Now() time.Time {
	mu.RLock()
	defer mu.RUnlock()
	return nowFunc().Add(offset)
}

func UTC() time.Time {
	return Now().UTC()
}

// Since is time.Since against the process clock.
func Since(t time.Time) time.Duration {
	return Now().Sub(t)
}

func SetMockTime(t time.Time) {
	mu.Lock()
	defer mu.Unlock()
	nowFunc = func() time.Time { return t }
	offset = 0
}

// Advance moves the clock forward by d. It works for both mocked and real time.
func Advance(d time.Duration) {
	mu.Lock()
	defer mu.Unlock()
	offset += d
}

func ResetTime() {
	mu.Lock()
	defer mu.Unlock()
	nowFunc = time.Now
	offset = 0
}
