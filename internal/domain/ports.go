package domain

import "context"

// Unsubscribe tears down a store subscription. Safe to call more than once.
type Unsubscribe func()

// ThreadStore defines persistence for threads and their messages.
//
// Subscriptions are push-based: the store delivers the full ordered list on
// every change, starting with an initial snapshot even when it is empty. The
// delivered order is authoritative; consumers replace their view with it
// rather than diffing against locally predicted state.
type ThreadStore interface {
	// CreateThread creates a thread titled DefaultTitle and seeds it with the
	// assistant Greeting. Both writes land as a single causal unit: no
	// subscriber ever observes the thread without its seed message.
	CreateThread(ctx context.Context, userID UserID) (*Thread, error)

	// AppendMessage appends one turn to a thread. Append-only.
	AppendMessage(ctx context.Context, userID UserID, threadID ThreadID, role Role, content string) (MessageID, error)

	// TouchThread bumps the thread's UpdatedAt so it reorders in the list.
	TouchThread(ctx context.Context, userID UserID, threadID ThreadID) error

	// RenameThread sets the title only while the current title is still
	// DefaultTitle. Otherwise it is a no-op. Two interleaved renames race
	// last-writer-wins, which is acceptable: a thread is renamed at most once.
	RenameThread(ctx context.Context, userID UserID, threadID ThreadID, title string) error

	// SubscribeThreads pushes the user's thread list ordered by UpdatedAt
	// descending, capped at ThreadWindow.
	SubscribeThreads(ctx context.Context, userID UserID, onChange func([]*Thread)) (Unsubscribe, error)

	// SubscribeMessages pushes a thread's messages ordered by CreatedAt
	// ascending, capped at MessageWindow.
	SubscribeMessages(ctx context.Context, userID UserID, threadID ThreadID, onChange func([]*Message)) (Unsubscribe, error)
}

// Bounded windows for store subscriptions.
const (
	ThreadWindow  = 50
	MessageWindow = 500
)

// CompletionOptions carry the generation knobs alongside a message history.
type CompletionOptions struct {
	Mode     Mode
	Language string
}

// CompletionClient sends a full message history to the relay backend and
// returns a single reply. Implementations must not retry on failure: a
// completion is not idempotent, so failures surface to the caller instead.
type CompletionClient interface {
	Complete(ctx context.Context, history []Turn, opts CompletionOptions, authToken string) (string, error)
}

// CompletionProvider is the relay-side port onto an actual model backend.
type CompletionProvider interface {
	GenerateReply(ctx context.Context, history []Turn, opts CompletionOptions) (string, error)
}

// TokenSource yields a fresh auth token for a backend call.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}
