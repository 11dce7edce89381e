// Package lock provides per-user advisory locks so that two sync jobs for
// the same user never run at the same time.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/asteroid-belt/trophysync/internal/log"
)

// ErrNotAcquired is returned when the key is already held.
var ErrNotAcquired = errors.New("lock: already held")

// ErrLost is returned by Refresh once the lease expired and the key was
// released or taken by another holder.
var ErrLost = errors.New("lock: lease lost")

// Locker acquires advisory locks with an expiry.
type Locker interface {
	// Acquire takes key for at most ttl. It returns ErrNotAcquired when
	// another holder owns the key.
	Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error)
}

// Lease is a held lock.
type Lease struct {
	Key     string
	TTL     time.Duration
	token   string
	release func(ctx context.Context, key, token string) error
	refresh func(ctx context.Context, key, token string, ttl time.Duration) error
	once    sync.Once
}

// Release frees the lock. Releasing twice is a no-op.
func (l *Lease) Release(ctx context.Context) error {
	var err error
	l.once.Do(func() {
		err = l.release(ctx, l.Key, l.token)
	})
	return err
}

// Refresh resets the expiry to TTL from now. It returns ErrLost when the
// lease is no longer owned.
func (l *Lease) Refresh(ctx context.Context) error {
	return l.refresh(ctx, l.Key, l.token, l.TTL)
}

// KeepAlive refreshes the lease every interval until stop is called. stop
// waits for the refresher to exit, so no refresh races a later Release.
// A non-positive interval defaults to a third of the TTL.
func (l *Lease) KeepAlive(ctx context.Context, interval time.Duration) (stop func()) {
	if interval <= 0 {
		interval = l.TTL / 3
	}
	if interval <= 0 {
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := l.Refresh(ctx)
				if errors.Is(err, ErrLost) {
					log.Error().Str("key", l.Key).Msg("lock lost before the holder finished")
					return
				}
				if err != nil && ctx.Err() == nil {
					log.Warn().Err(err).Str("key", l.Key).Msg("lock refresh failed")
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// UserKey returns the sync lock key for a user.
func UserKey(userID int64) string {
	return fmt.Sprintf("sync:user:%d", userID)
}

// Memory is a process-local Locker.
type Memory struct {
	mu   sync.Mutex
	held map[string]memoryEntry
	now  func() time.Time
}

type memoryEntry struct {
	token     string
	expiresAt time.Time
}

var _ Locker = (*Memory)(nil)

// NewMemory returns an empty in-process locker.
func NewMemory() *Memory {
	return &Memory{held: make(map[string]memoryEntry), now: time.Now}
}

func (m *Memory) Acquire(_ context.Context, key string, ttl time.Duration) (*Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if e, ok := m.held[key]; ok && now.Before(e.expiresAt) {
		return nil, ErrNotAcquired
	}

	token := uuid.NewString()
	m.held[key] = memoryEntry{token: token, expiresAt: now.Add(ttl)}
	return &Lease{Key: key, TTL: ttl, token: token, release: m.release, refresh: m.refresh}, nil
}

// Held reports whether key is currently locked.
func (m *Memory) Held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.held[key]
	return ok && m.now().Before(e.expiresAt)
}

func (m *Memory) release(_ context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// An expired lease may have been taken over; only the owner deletes.
	if e, ok := m.held[key]; ok && e.token == token {
		delete(m.held, key)
	}
	return nil
}

func (m *Memory) refresh(_ context.Context, key, token string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.held[key]
	if !ok || e.token != token {
		return ErrLost
	}
	e.expiresAt = m.now().Add(ttl)
	m.held[key] = e
	return nil
}
