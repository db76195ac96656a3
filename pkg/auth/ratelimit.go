package auth

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/gevidence-labs/gevidence/core/pkg/api"
)

// ActorLimiter rate-limits per authenticated principal, falling back to the
// remote address for unauthenticated requests.
type ActorLimiter struct {
	mu       sync.Mutex
	limiters map[string]*actorEntry
	rps      rate.Limit
	burst    int
}

type actorEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewActorLimiter creates a limiter allowing rps sustained requests per
// actor with the given burst.
func NewActorLimiter(rps float64, burst int) *ActorLimiter {
	al := &ActorLimiter{
		limiters: make(map[string]*actorEntry),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
	go al.sweep()
	return al
}

func (al *ActorLimiter) get(actor string) *rate.Limiter {
	al.mu.Lock()
	defer al.mu.Unlock()
	e, ok := al.limiters[actor]
	if !ok {
		e = &actorEntry{limiter: rate.NewLimiter(al.rps, al.burst)}
		al.limiters[actor] = e
	}
	e.lastSeen = time.Now()
	return e.limiter
}

// sweep drops actors idle for over three minutes so the map stays bounded.
func (al *ActorLimiter) sweep() {
	for {
		time.Sleep(time.Minute)
		al.mu.Lock()
		for actor, e := range al.limiters {
			if time.Since(e.lastSeen) > 3*time.Minute {
				delete(al.limiters, actor)
			}
		}
		al.mu.Unlock()
	}
}

// Middleware enforces the limit, returning 429 with Retry-After when the
// actor has exhausted its budget.
func (al *ActorLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := r.RemoteAddr
		if id, err := IdentityFrom(r.Context()); err == nil {
			actor = string(id.Principal)
		}
		if !al.get(actor).Allow() {
			api.WriteTooManyRequests(w, 5)
			return
		}
		next.ServeHTTP(w, r)
	})
}
