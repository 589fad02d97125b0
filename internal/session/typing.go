package session

import (
	"sync"
	"time"

	"github.com/matheus3301/berry/internal/jid"
	"golang.org/x/time/rate"
)

// typingLimiter applies a token bucket per contact and evicts idle entries.
type typingLimiter struct {
	limit   rate.Limit
	idleTTL time.Duration

	mu    sync.Mutex
	byKey map[string]*typingEntry
	hits  uint64
}

type typingEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newTypingLimiter(every time.Duration) *typingLimiter {
	return &typingLimiter{
		limit:   rate.Every(every),
		idleTTL: 10 * time.Minute,
		byKey:   make(map[string]*typingEntry),
	}
}

// Allow reports whether a composing notification may go to contact now.
func (l *typingLimiter) Allow(contact string, now time.Time) bool {
	key := jid.Normalize(contact)
	if key == "" {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byKey[key]
	if !ok {
		e = &typingEntry{limiter: rate.NewLimiter(l.limit, 1)}
		l.byKey[key] = e
	}
	e.lastSeen = now
	allowed := e.limiter.AllowN(now, 1)

	l.hits++
	if l.hits%256 == 0 {
		cutoff := now.Add(-l.idleTTL)
		for k, v := range l.byKey {
			if v.lastSeen.Before(cutoff) {
				delete(l.byKey, k)
			}
		}
	}
	return allowed
}

// Reset forgets contact so the next composing notification goes out.
func (l *typingLimiter) Reset(contact string) {
	l.mu.Lock()
	delete(l.byKey, jid.Normalize(contact))
	l.mu.Unlock()
}
