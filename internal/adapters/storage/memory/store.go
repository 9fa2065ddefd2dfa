// Package memory is an in-memory ThreadStore used by tests and local mode.
// It implements the same subscription contract as the Firestore adapter:
// every subscriber gets an initial snapshot, then the full ordered list on
// each change.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/polyagent/polyagent/internal/domain"
)

type threadSub struct {
	userID domain.UserID
	fn     func([]*domain.Thread)
}

type messageSub struct {
	threadID domain.ThreadID
	fn       func([]*domain.Message)
}

type Store struct {
	mu       sync.Mutex
	now      func() time.Time
	threads  map[domain.UserID]map[domain.ThreadID]*domain.Thread
	messages map[domain.ThreadID][]*domain.Message

	nextSub     int
	threadSubs  map[int]*threadSub
	messageSubs map[int]*messageSub
}

func NewStore() *Store {
	return &Store{
		now:         time.Now,
		threads:     make(map[domain.UserID]map[domain.ThreadID]*domain.Thread),
		messages:    make(map[domain.ThreadID][]*domain.Message),
		threadSubs:  make(map[int]*threadSub),
		messageSubs: make(map[int]*messageSub),
	}
}

func (s *Store) CreateThread(ctx context.Context, userID domain.UserID) (*domain.Thread, error) {
	s.mu.Lock()
	now := s.now()
	th := &domain.Thread{
		ID:        domain.ThreadID(uuid.NewString()),
		UserID:    userID,
		Title:     domain.DefaultTitle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if s.threads[userID] == nil {
		s.threads[userID] = make(map[domain.ThreadID]*domain.Thread)
	}
	s.threads[userID][th.ID] = th

	// Seed greeting lands in the same critical section, so no subscriber
	// ever sees the thread without it.
	seed := &domain.Message{
		ID:        domain.MessageID(uuid.NewString()),
		ThreadID:  th.ID,
		Role:      domain.RoleAssistant,
		Content:   domain.Greeting,
		CreatedAt: now,
	}
	s.messages[th.ID] = append(s.messages[th.ID], seed)

	out := *th
	notify := s.pendingNotificationsLocked(userID, th.ID)
	s.mu.Unlock()

	notify()
	return &out, nil
}

func (s *Store) AppendMessage(ctx context.Context, userID domain.UserID, threadID domain.ThreadID, role domain.Role, content string) (domain.MessageID, error) {
	s.mu.Lock()
	if _, ok := s.threads[userID][threadID]; !ok {
		s.mu.Unlock()
		return "", domain.ErrThreadNotFound
	}

	msg := &domain.Message{
		ID:        domain.MessageID(uuid.NewString()),
		ThreadID:  threadID,
		Role:      role,
		Content:   content,
		CreatedAt: s.now(),
	}
	s.messages[threadID] = append(s.messages[threadID], msg)

	notify := s.pendingNotificationsLocked(userID, threadID)
	s.mu.Unlock()

	notify()
	return msg.ID, nil
}

func (s *Store) TouchThread(ctx context.Context, userID domain.UserID, threadID domain.ThreadID) error {
	s.mu.Lock()
	th, ok := s.threads[userID][threadID]
	if !ok {
		s.mu.Unlock()
		return domain.ErrThreadNotFound
	}
	th.UpdatedAt = s.now()

	notify := s.pendingNotificationsLocked(userID, threadID)
	s.mu.Unlock()

	notify()
	return nil
}

func (s *Store) RenameThread(ctx context.Context, userID domain.UserID, threadID domain.ThreadID, title string) error {
	s.mu.Lock()
	th, ok := s.threads[userID][threadID]
	if !ok {
		s.mu.Unlock()
		return domain.ErrThreadNotFound
	}
	if th.Title != domain.DefaultTitle {
		s.mu.Unlock()
		return nil
	}
	th.Title = title
	th.UpdatedAt = s.now()

	notify := s.pendingNotificationsLocked(userID, threadID)
	s.mu.Unlock()

	notify()
	return nil
}

func (s *Store) SubscribeThreads(ctx context.Context, userID domain.UserID, onChange func([]*domain.Thread)) (domain.Unsubscribe, error) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.threadSubs[id] = &threadSub{userID: userID, fn: onChange}
	snapshot := s.threadSnapshotLocked(userID)
	s.mu.Unlock()

	// Initial snapshot, delivered even when empty.
	onChange(snapshot)

	return func() {
		s.mu.Lock()
		delete(s.threadSubs, id)
		s.mu.Unlock()
	}, nil
}

func (s *Store) SubscribeMessages(ctx context.Context, userID domain.UserID, threadID domain.ThreadID, onChange func([]*domain.Message)) (domain.Unsubscribe, error) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.messageSubs[id] = &messageSub{threadID: threadID, fn: onChange}
	snapshot := s.messageSnapshotLocked(threadID)
	s.mu.Unlock()

	onChange(snapshot)

	return func() {
		s.mu.Lock()
		delete(s.messageSubs, id)
		s.mu.Unlock()
	}, nil
}

// pendingNotificationsLocked captures the subscriber callbacks and snapshots
// affected by a mutation. The returned closure runs outside the lock so
// subscriber callbacks can call back into the store.
func (s *Store) pendingNotificationsLocked(userID domain.UserID, threadID domain.ThreadID) func() {
	type threadNotify struct {
		fn   func([]*domain.Thread)
		snap []*domain.Thread
	}
	type messageNotify struct {
		fn   func([]*domain.Message)
		snap []*domain.Message
	}

	var tn []threadNotify
	for _, sub := range s.threadSubs {
		if sub.userID == userID {
			tn = append(tn, threadNotify{fn: sub.fn, snap: s.threadSnapshotLocked(userID)})
		}
	}
	var mn []messageNotify
	for _, sub := range s.messageSubs {
		if sub.threadID == threadID {
			mn = append(mn, messageNotify{fn: sub.fn, snap: s.messageSnapshotLocked(threadID)})
		}
	}

	return func() {
		for _, n := range tn {
			n.fn(n.snap)
		}
		for _, n := range mn {
			n.fn(n.snap)
		}
	}
}

func (s *Store) threadSnapshotLocked(userID domain.UserID) []*domain.Thread {
	out := make([]*domain.Thread, 0, len(s.threads[userID]))
	for _, th := range s.threads[userID] {
		cp := *th
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > domain.ThreadWindow {
		out = out[:domain.ThreadWindow]
	}
	return out
}

func (s *Store) messageSnapshotLocked(threadID domain.ThreadID) []*domain.Message {
	msgs := s.messages[threadID]
	if len(msgs) > domain.MessageWindow {
		msgs = msgs[:domain.MessageWindow]
	}
	out := make([]*domain.Message, 0, len(msgs))
	for _, m := range msgs {
		cp := *m
		out = append(out, &cp)
	}
	return out
}
