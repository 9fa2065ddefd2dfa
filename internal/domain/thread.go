package domain

// DefaultTitle is the placeholder title given to every new thread. Title
// inference only ever replaces this exact value; once a thread carries any
// other title it is never renamed again.
const DefaultTitle = "New chat"

// Greeting is the assistant message every new thread is seeded with.
const Greeting = "Hi! Ask me anything."

// Thread represents a single conversation owned by one user.
type Thread struct {
	ID        ThreadID
	UserID    UserID
	Title     string
	CreatedAt Timestamp
	UpdatedAt Timestamp
}

// Message is one turn in a thread. Messages are append-only and ordered by
// CreatedAt ascending; the persisted order is authoritative.
type Message struct {
	ID        MessageID
	ThreadID  ThreadID
	Role      Role
	Content   string
	CreatedAt Timestamp
}

// Turn is the role/content pair sent to the completion backend. Persistence
// metadata never leaves the client.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// TurnsFromMessages projects a message list onto the wire shape the
// completion backend expects.
func TurnsFromMessages(msgs []*Message) []Turn {
	out := make([]Turn, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, Turn{Role: m.Role, Content: m.Content})
	}
	return out
}
