package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/SirClappington/ledgersync/internal/domain"
)

// FakeLocker mirrors the Redis job lock semantics in memory: set-if-absent
// acquire, token-checked idempotent release. No TTL; tests release explicitly.
type FakeLocker struct {
	mu   sync.Mutex
	held map[string]string
}

func NewFakeLocker() *FakeLocker {
	return &FakeLocker{held: make(map[string]string)}
}

func lockKey(ownerID int64, role domain.OwnerRole, scope string) string {
	return fmt.Sprintf("%d:%s:%s", ownerID, role, scope)
}

func (l *FakeLocker) TryAcquire(_ context.Context, ownerID int64, role domain.OwnerRole, scope string) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := lockKey(ownerID, role, scope)
	if _, taken := l.held[k]; taken {
		return "", false, nil
	}
	token := uuid.NewString()
	l.held[k] = token
	return token, true, nil
}

func (l *FakeLocker) Release(_ context.Context, ownerID int64, role domain.OwnerRole, scope, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := lockKey(ownerID, role, scope)
	if l.held[k] == token {
		delete(l.held, k)
	}
	return nil
}

func (l *FakeLocker) IsActive(_ context.Context, ownerID int64, role domain.OwnerRole, scope string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, taken := l.held[lockKey(ownerID, role, scope)]
	return taken, nil
}

func (l *FakeLocker) IsHolder(_ context.Context, ownerID int64, role domain.OwnerRole, scope, token string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[lockKey(ownerID, role, scope)] == token, nil
}

// Expire drops the lock as if its TTL lapsed.
func (l *FakeLocker) Expire(ownerID int64, role domain.OwnerRole, scope string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, lockKey(ownerID, role, scope))
}
