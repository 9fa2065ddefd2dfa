// Package engine owns the client's authoritative view of the thread list and
// the active conversation. It drives thread creation, the optimistic send
// path through the store and the completion gateway, and recovery from
// partial failures by writing them back into the thread timeline.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/polyagent/polyagent/internal/domain"
	"github.com/polyagent/polyagent/internal/observability"
)

// ModeSource supplies the generation options for a send. The entitlement is
// re-checked here at send time; the engine never trusts a stored mode alone.
type ModeSource interface {
	EffectiveMode() domain.Mode
	Language() string
}

// Engine is a single logical actor: one mutex-guarded view, with all remote
// calls performed off-lock. Store subscriptions push authoritative state in;
// the engine replaces its view with whatever the store delivers and never
// reconciles by diffing.
type Engine struct {
	store   domain.ThreadStore
	gateway domain.CompletionClient
	tokens  domain.TokenSource
	modes   ModeSource
	log     *slog.Logger

	// onChange fires after every view mutation so a UI can re-render.
	onChange func()

	mu           sync.Mutex
	userID       domain.UserID
	threads      []*domain.Thread
	activeThread domain.ThreadID
	messages     []*domain.Message
	pendingInput string
	sendInFlight bool

	// titled tracks threads whose title inference already ran this session.
	titled map[domain.ThreadID]bool

	// Subscription generations. A delivery carrying a stale generation is
	// discarded, so a late callback for a torn-down subscription can never
	// corrupt the current view.
	threadGen uint64
	msgGen    uint64

	unsubThreads  domain.Unsubscribe
	unsubMessages domain.Unsubscribe
}

type Option func(*Engine)

// WithOnChange registers a callback invoked (off-lock) after view changes.
func WithOnChange(fn func()) Option {
	return func(e *Engine) { e.onChange = fn }
}

func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

func New(store domain.ThreadStore, gateway domain.CompletionClient, tokens domain.TokenSource, modes ModeSource, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		gateway: gateway,
		tokens:  tokens,
		modes:   modes,
		log:     observability.Component("engine"),
		titled:  make(map[domain.ThreadID]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// View is a copy of the engine's current state, safe to read without locks.
type View struct {
	Threads        []*domain.Thread
	ActiveThreadID domain.ThreadID
	Messages       []*domain.Message
	PendingInput   string
	SendInFlight   bool
}

func (e *Engine) View() View {
	e.mu.Lock()
	defer e.mu.Unlock()

	threads := make([]*domain.Thread, len(e.threads))
	copy(threads, e.threads)
	messages := make([]*domain.Message, len(e.messages))
	copy(messages, e.messages)

	return View{
		Threads:        threads,
		ActiveThreadID: e.activeThread,
		Messages:       messages,
		PendingInput:   e.pendingInput,
		SendInFlight:   e.sendInFlight,
	}
}

// SetPendingInput mirrors the composer contents into the view.
func (e *Engine) SetPendingInput(text string) {
	e.mu.Lock()
	e.pendingInput = text
	e.mu.Unlock()
	e.notifyChange()
}

// FilterThreads returns the threads whose title contains query,
// case-insensitively. Empty query returns the full list.
func (e *Engine) FilterThreads(query string) []*domain.Thread {
	q := strings.ToLower(strings.TrimSpace(query))

	e.mu.Lock()
	defer e.mu.Unlock()

	if q == "" {
		out := make([]*domain.Thread, len(e.threads))
		copy(out, e.threads)
		return out
	}
	var out []*domain.Thread
	for _, th := range e.threads {
		if strings.Contains(strings.ToLower(th.Title), q) {
			out = append(out, th)
		}
	}
	return out
}

// SwitchIdentity tears down every subscription, resets the view, and when a
// new identity is given re-subscribes to its thread list. An empty userID
// just signs out.
func (e *Engine) SwitchIdentity(ctx context.Context, userID domain.UserID) error {
	e.mu.Lock()
	e.threadGen++
	e.msgGen++
	gen := e.threadGen
	oldThreads, oldMessages := e.unsubThreads, e.unsubMessages
	e.unsubThreads, e.unsubMessages = nil, nil

	e.userID = userID
	e.threads = nil
	e.activeThread = ""
	e.messages = nil
	e.pendingInput = ""
	e.sendInFlight = false
	e.titled = make(map[domain.ThreadID]bool)
	e.mu.Unlock()

	if oldMessages != nil {
		oldMessages()
	}
	if oldThreads != nil {
		oldThreads()
	}
	e.notifyChange()

	if userID == "" {
		e.log.Info("identity unbound")
		return nil
	}

	unsub, err := e.store.SubscribeThreads(ctx, userID, func(threads []*domain.Thread) {
		e.deliverThreads(ctx, gen, threads)
	})
	if err != nil {
		e.log.Error("thread subscription failed", "user_id", userID, "error", err)
		return fmt.Errorf("subscribe threads: %w", err)
	}

	e.mu.Lock()
	if e.threadGen != gen {
		// A later identity switch won the race; this subscription is stale.
		e.mu.Unlock()
		unsub()
		return nil
	}
	e.unsubThreads = unsub
	e.mu.Unlock()

	e.log.Info("identity bound", "user_id", userID)
	return nil
}

func (e *Engine) deliverThreads(ctx context.Context, gen uint64, threads []*domain.Thread) {
	e.mu.Lock()
	if gen != e.threadGen {
		e.mu.Unlock()
		return
	}
	e.threads = threads

	var autoSelect domain.ThreadID
	if e.activeThread == "" && len(threads) > 0 {
		autoSelect = threads[0].ID
	}
	e.mu.Unlock()
	e.notifyChange()

	if autoSelect != "" {
		if err := e.SelectThread(ctx, autoSelect); err != nil {
			e.log.Error("auto-select failed", "thread_id", autoSelect, "error", err)
		}
	}
}

// SelectThread switches the active conversation. The message view clears
// synchronously and the previous subscription is torn down before the new
// one is established, so no stale or merged delivery can surface.
func (e *Engine) SelectThread(ctx context.Context, id domain.ThreadID) error {
	e.mu.Lock()
	if e.userID == "" {
		e.mu.Unlock()
		return domain.ErrAuthRequired
	}
	userID := e.userID
	e.msgGen++
	gen := e.msgGen
	old := e.unsubMessages
	e.unsubMessages = nil
	e.activeThread = id
	e.messages = nil
	e.mu.Unlock()

	if old != nil {
		old()
	}
	e.notifyChange()

	if id == "" {
		return nil
	}

	unsub, err := e.store.SubscribeMessages(ctx, userID, id, func(msgs []*domain.Message) {
		e.deliverMessages(gen, msgs)
	})
	if err != nil {
		e.log.Error("message subscription failed", "thread_id", id, "error", err)
		return fmt.Errorf("subscribe messages: %w", err)
	}

	e.mu.Lock()
	if e.msgGen != gen {
		e.mu.Unlock()
		unsub()
		return nil
	}
	e.unsubMessages = unsub
	e.mu.Unlock()
	return nil
}

func (e *Engine) deliverMessages(gen uint64, msgs []*domain.Message) {
	e.mu.Lock()
	if gen != e.msgGen {
		e.mu.Unlock()
		return
	}
	// The store's order is authoritative: replace, never merge.
	e.messages = msgs
	e.mu.Unlock()
	e.notifyChange()
}

// StartNewChat creates a fresh thread and makes it active. No-op without a
// bound identity.
func (e *Engine) StartNewChat(ctx context.Context) (domain.ThreadID, error) {
	e.mu.Lock()
	if e.userID == "" {
		e.mu.Unlock()
		return "", domain.ErrAuthRequired
	}
	userID := e.userID
	e.pendingInput = ""
	e.mu.Unlock()
	e.notifyChange()

	th, err := e.store.CreateThread(ctx, userID)
	if err != nil {
		e.log.Error("failed to create thread", "user_id", userID, "error", err)
		return "", err
	}
	if err := e.SelectThread(ctx, th.ID); err != nil {
		return th.ID, err
	}
	return th.ID, nil
}

// Close unbinds the identity and releases all subscriptions.
func (e *Engine) Close() {
	_ = e.SwitchIdentity(context.Background(), "")
}

func (e *Engine) notifyChange() {
	if e.onChange != nil {
		e.onChange()
	}
}
