package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/polyagent/polyagent/internal/domain"
	"github.com/polyagent/polyagent/internal/observability"
)

// Target is the piece of the application that follows the signed-in user.
type Target interface {
	SwitchIdentity(ctx context.Context, userID domain.UserID) error
}

// Binder bridges an auth provider's identity callbacks to a Target. Auth
// providers fire their callbacks from their own goroutines and may deliver
// the same identity more than once; the binder serializes rebinding,
// ignores repeats of the currently bound identity, and drops a change that
// has already been superseded by a later one.
type Binder struct {
	target Target
	log    *slog.Logger

	gen atomic.Uint64

	mu    sync.Mutex
	bound domain.UserID
	ok    bool
}

func NewBinder(target Target, opts ...Option) *Binder {
	b := &Binder{
		target: target,
		log:    observability.Component("session"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type Option func(*Binder)

func WithLogger(log *slog.Logger) Option {
	return func(b *Binder) { b.log = log }
}

// OnIdentityChanged is the callback handed to the auth provider. An empty
// userID means signed out.
func (b *Binder) OnIdentityChanged(ctx context.Context, userID domain.UserID) {
	b.apply(ctx, b.gen.Add(1), userID)
}

func (b *Binder) apply(ctx context.Context, gen uint64, userID domain.UserID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if gen != b.gen.Load() {
		// A later identity change is already pending; this one lost.
		b.log.Debug("identity change superseded", "user_id", userID)
		return
	}
	if b.ok && b.bound == userID {
		return
	}

	if err := b.target.SwitchIdentity(ctx, userID); err != nil {
		// Leave the previous binding recorded so the provider's next
		// delivery of the same identity retries instead of deduping.
		b.log.Error("rebind failed", "user_id", userID, "error", err)
		return
	}
	b.bound = userID
	b.ok = true

	if userID == "" {
		b.log.Info("session cleared")
	} else {
		b.log.Info("session bound", "user_id", userID)
	}
}

// Current reports the identity the target is bound to, if any.
func (b *Binder) Current() (domain.UserID, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bound, b.ok
}
