// Package firestore persists threads under users/{uid}/chats with a
// messages subcollection per thread, and exposes the store's snapshot
// listeners as push subscriptions.
package firestore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/polyagent/polyagent/internal/domain"
	"github.com/polyagent/polyagent/internal/observability"
)

type Store struct {
	client *firestore.Client
	log    *slog.Logger
}

// NewStore creates a Firestore-backed thread store for the given project.
func NewStore(ctx context.Context, projectID string) (*Store, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required for Firestore store")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	return &Store{client: client, log: observability.Component("store.firestore")}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// ─────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────

func (s *Store) chatsCol(userID domain.UserID) *firestore.CollectionRef {
	return s.client.Collection("users").Doc(string(userID)).Collection("chats")
}

func (s *Store) chatDoc(userID domain.UserID, threadID domain.ThreadID) *firestore.DocumentRef {
	return s.chatsCol(userID).Doc(string(threadID))
}

func (s *Store) messagesCol(userID domain.UserID, threadID domain.ThreadID) *firestore.CollectionRef {
	return s.chatDoc(userID, threadID).Collection("messages")
}

// ─────────────────────────────────────────
// Firestore Types
// ─────────────────────────────────────────

type threadDoc struct {
	Title     string    `firestore:"title"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

type messageDoc struct {
	Role      string    `firestore:"role"`
	Content   string    `firestore:"content"`
	CreatedAt time.Time `firestore:"createdAt"`
}

// ─────────────────────────────────────────
// ThreadStore implementation
// ─────────────────────────────────────────

func (s *Store) CreateThread(ctx context.Context, userID domain.UserID) (*domain.Thread, error) {
	chatRef := s.chatsCol(userID).NewDoc()
	seedRef := chatRef.Collection("messages").NewDoc()

	// One batch: the thread and its seed commit together, so a subscriber
	// can never observe the thread without a message.
	batch := s.client.Batch()
	batch.Set(chatRef, map[string]interface{}{
		"title":     domain.DefaultTitle,
		"createdAt": firestore.ServerTimestamp,
		"updatedAt": firestore.ServerTimestamp,
	})
	batch.Set(seedRef, map[string]interface{}{
		"role":      string(domain.RoleAssistant),
		"content":   domain.Greeting,
		"createdAt": firestore.ServerTimestamp,
	})

	if _, err := batch.Commit(ctx); err != nil {
		return nil, s.mapErr("CreateThread", err)
	}

	return &domain.Thread{
		ID:     domain.ThreadID(chatRef.ID),
		UserID: userID,
		Title:  domain.DefaultTitle,
	}, nil
}

func (s *Store) AppendMessage(ctx context.Context, userID domain.UserID, threadID domain.ThreadID, role domain.Role, content string) (domain.MessageID, error) {
	ref := s.messagesCol(userID, threadID).NewDoc()
	_, err := ref.Set(ctx, map[string]interface{}{
		"role":      string(role),
		"content":   content,
		"createdAt": firestore.ServerTimestamp,
	})
	if err != nil {
		return "", s.mapErr("AppendMessage", err)
	}
	return domain.MessageID(ref.ID), nil
}

func (s *Store) TouchThread(ctx context.Context, userID domain.UserID, threadID domain.ThreadID) error {
	_, err := s.chatDoc(userID, threadID).Update(ctx, []firestore.Update{
		{Path: "updatedAt", Value: firestore.ServerTimestamp},
	})
	if err != nil {
		return s.mapErr("TouchThread", err)
	}
	return nil
}

// RenameThread reads the current title first and only writes while it is
// still the placeholder. Two interleaved renames race last-writer-wins.
func (s *Store) RenameThread(ctx context.Context, userID domain.UserID, threadID domain.ThreadID, title string) error {
	ref := s.chatDoc(userID, threadID)

	snap, err := ref.Get(ctx)
	if err != nil {
		return s.mapErr("RenameThread", err)
	}

	var doc threadDoc
	if err := snap.DataTo(&doc); err != nil {
		return fmt.Errorf("firestore RenameThread decode: %w", err)
	}
	if doc.Title != "" && doc.Title != domain.DefaultTitle {
		return nil
	}

	_, err = ref.Update(ctx, []firestore.Update{
		{Path: "title", Value: title},
		{Path: "updatedAt", Value: firestore.ServerTimestamp},
	})
	if err != nil {
		return s.mapErr("RenameThread", err)
	}
	return nil
}

// ─────────────────────────────────────────
// Subscriptions
// ─────────────────────────────────────────

func (s *Store) SubscribeThreads(ctx context.Context, userID domain.UserID, onChange func([]*domain.Thread)) (domain.Unsubscribe, error) {
	ctx, cancel := context.WithCancel(ctx)

	q := s.chatsCol(userID).
		OrderBy("updatedAt", firestore.Desc).
		Limit(domain.ThreadWindow)

	it := q.Snapshots(ctx)

	go func() {
		defer it.Stop()
		for {
			snap, err := it.Next()
			if err != nil {
				if status.Code(err) != codes.Canceled {
					s.log.Error("thread subscription ended", "user_id", userID, "error", err)
				}
				return
			}

			threads, err := decodeThreads(userID, snap)
			if err != nil {
				s.log.Error("decode thread snapshot", "user_id", userID, "error", err)
				continue
			}
			onChange(threads)
		}
	}()

	return func() { cancel() }, nil
}

func (s *Store) SubscribeMessages(ctx context.Context, userID domain.UserID, threadID domain.ThreadID, onChange func([]*domain.Message)) (domain.Unsubscribe, error) {
	ctx, cancel := context.WithCancel(ctx)

	q := s.messagesCol(userID, threadID).
		OrderBy("createdAt", firestore.Asc).
		Limit(domain.MessageWindow)

	it := q.Snapshots(ctx)

	go func() {
		defer it.Stop()
		for {
			snap, err := it.Next()
			if err != nil {
				if status.Code(err) != codes.Canceled {
					s.log.Error("message subscription ended", "thread_id", threadID, "error", err)
				}
				return
			}

			msgs, err := decodeMessages(threadID, snap)
			if err != nil {
				s.log.Error("decode message snapshot", "thread_id", threadID, "error", err)
				continue
			}
			onChange(msgs)
		}
	}()

	return func() { cancel() }, nil
}

func decodeThreads(userID domain.UserID, snap *firestore.QuerySnapshot) ([]*domain.Thread, error) {
	out := make([]*domain.Thread, 0, snap.Size)
	for {
		ds, err := snap.Documents.Next()
		if err != nil {
			if err == iterator.Done {
				break
			}
			return nil, err
		}

		var doc threadDoc
		if err := ds.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode threadDoc: %w", err)
		}
		out = append(out, &domain.Thread{
			ID:        domain.ThreadID(ds.Ref.ID),
			UserID:    userID,
			Title:     doc.Title,
			CreatedAt: doc.CreatedAt,
			UpdatedAt: doc.UpdatedAt,
		})
	}
	return out, nil
}

func decodeMessages(threadID domain.ThreadID, snap *firestore.QuerySnapshot) ([]*domain.Message, error) {
	out := make([]*domain.Message, 0, snap.Size)
	for {
		ds, err := snap.Documents.Next()
		if err != nil {
			if err == iterator.Done {
				break
			}
			return nil, err
		}

		var doc messageDoc
		if err := ds.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode messageDoc: %w", err)
		}
		out = append(out, &domain.Message{
			ID:        domain.MessageID(ds.Ref.ID),
			ThreadID:  threadID,
			Role:      domain.Role(doc.Role),
			Content:   doc.Content,
			CreatedAt: doc.CreatedAt,
		})
	}
	return out, nil
}

func (s *Store) mapErr(op string, err error) error {
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("firestore %s: %w", op, domain.ErrThreadNotFound)
	case codes.Unavailable, codes.DeadlineExceeded:
		return fmt.Errorf("firestore %s: %w", op, domain.ErrStoreUnavailable)
	default:
		return fmt.Errorf("firestore %s: %w", op, err)
	}
}
