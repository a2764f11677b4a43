package router

import (
	"context"
	"sync"

	rediskey "sorter/pkg/redis"
)

// localClaims keeps last claims in process memory. Setup falls back to it
// when no Redis-backed tracker is configured; entries do not survive a
// restart and are not shared between server instances.
type localClaims struct {
	mu   sync.Mutex
	last map[string]rediskey.LastClaim
}

func newLocalClaims() *localClaims {
	return &localClaims{last: map[string]rediskey.LastClaim{}}
}

func (l *localClaims) Remember(_ context.Context, c rediskey.LastClaim) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.last[c.Operator] = c
	return nil
}

func (l *localClaims) Last(_ context.Context, operator string) (rediskey.LastClaim, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.last[operator]
	return c, ok, nil
}

func (l *localClaims) Forget(_ context.Context, operator string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.last, operator)
	return nil
}
