package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/polyagent/polyagent/internal/domain"
	"github.com/polyagent/polyagent/internal/title"
)

// fallbackReply mirrors what the original client shows when the backend
// returns an empty reply body.
const fallbackReply = "(No reply returned)"

// SendMessage runs one full send: ensure a thread exists, persist the user
// turn, infer the title once, call the completion gateway, persist the
// reply. It is a no-op for blank input, while a send is already in flight,
// or with no identity bound.
//
// SendMessage never returns an error. Every failure is recovered locally by
// writing a visible annotation into the active thread's timeline; callers
// observe only SendInFlight returning to false and new messages arriving.
func (e *Engine) SendMessage(ctx context.Context, text string) {
	text = strings.TrimSpace(text)

	e.mu.Lock()
	if text == "" || e.sendInFlight || e.userID == "" {
		e.mu.Unlock()
		return
	}
	userID := e.userID
	threadID := e.activeThread
	history := domain.TurnsFromMessages(e.messages)

	// Optimistic clear: the composer empties before anything is confirmed.
	// Failures reflect the text back into the timeline, never lose it.
	e.pendingInput = ""
	e.sendInFlight = true
	e.mu.Unlock()
	e.notifyChange()

	log := e.log.With("user_id", userID)

	defer func() {
		e.mu.Lock()
		e.sendInFlight = false
		e.mu.Unlock()
		e.notifyChange()
	}()

	// EnsuringThread
	if threadID == "" {
		id, err := e.ensureThread(ctx, userID)
		if err != nil {
			log.Error("failed to ensure thread", "error", err)
			// Preserve the input so the caller can re-surface it.
			e.mu.Lock()
			e.pendingInput = text
			e.mu.Unlock()
			e.notifyChange()
			e.annotateFailure(ctx, userID, "", err)
			return
		}
		threadID = id
	}
	log = log.With("thread_id", threadID)

	// Persisting(user)
	if _, err := e.store.AppendMessage(ctx, userID, threadID, domain.RoleUser, text); err != nil {
		log.Error("failed to persist user message", "error", err)
		e.annotateFailure(ctx, userID, threadID, err)
		return
	}
	if err := e.store.TouchThread(ctx, userID, threadID); err != nil {
		log.Error("failed to touch thread", "error", err)
		e.annotateFailure(ctx, userID, threadID, err)
		return
	}

	e.maybeInferTitle(ctx, userID, threadID, text)

	// AwaitingCompletion
	token, err := e.tokens.Token(ctx)
	if err != nil {
		log.Error("failed to obtain auth token", "error", err)
		e.annotateFailure(ctx, userID, threadID, &domain.GatewayError{
			Kind:    domain.GatewayUnauthorized,
			Message: "could not obtain an auth token",
		})
		return
	}

	opts := domain.CompletionOptions{
		Mode:     e.modes.EffectiveMode(),
		Language: e.modes.Language(),
	}
	reply, err := e.gateway.Complete(ctx, append(history, domain.Turn{Role: domain.RoleUser, Content: text}), opts, token)
	if err != nil {
		log.Error("completion failed", "mode", string(opts.Mode), "error", err)
		e.annotateFailure(ctx, userID, threadID, err)
		return
	}
	if reply == "" {
		reply = fallbackReply
	}

	// Persisting(reply)
	if _, err := e.store.AppendMessage(ctx, userID, threadID, domain.RoleAssistant, reply); err != nil {
		log.Error("failed to persist reply", "error", err)
		e.annotateFailure(ctx, userID, threadID, err)
		return
	}
	if err := e.store.TouchThread(ctx, userID, threadID); err != nil {
		log.Error("failed to touch thread after reply", "error", err)
		e.annotateFailure(ctx, userID, threadID, err)
		return
	}

	log.Info("send completed", "mode", string(opts.Mode))
}

// Attachment describes a user-picked file. Only the name and size reach the
// timeline; upload storage is an external concern.
type Attachment struct {
	Name string
	Size int64
}

// AttachFiles records picked files as a user turn plus a canned assistant
// acknowledgement. Entitlement gating happens in the caller, before the
// request reaches the engine.
func (e *Engine) AttachFiles(ctx context.Context, files []Attachment) error {
	if len(files) == 0 {
		return nil
	}

	e.mu.Lock()
	userID := e.userID
	threadID := e.activeThread
	e.mu.Unlock()

	if userID == "" {
		return domain.ErrAuthRequired
	}

	if threadID == "" {
		id, err := e.ensureThread(ctx, userID)
		if err != nil {
			return err
		}
		threadID = id
		e.maybeInferTitle(ctx, userID, threadID, "Attachments")
	}

	parts := make([]string, 0, len(files))
	for _, f := range files {
		parts = append(parts, fmt.Sprintf("%s (%d KB)", f.Name, (f.Size+512)/1024))
	}

	if _, err := e.store.AppendMessage(ctx, userID, threadID, domain.RoleUser, "📎 Attached: "+strings.Join(parts, ", ")); err != nil {
		return err
	}
	if _, err := e.store.AppendMessage(ctx, userID, threadID, domain.RoleAssistant,
		"Got it! (Upload parsing comes next.) For now, I can confirm the file was selected."); err != nil {
		return err
	}
	return e.store.TouchThread(ctx, userID, threadID)
}

// ensureThread creates a thread and makes it active. Used when a send or
// attachment arrives with no active conversation.
func (e *Engine) ensureThread(ctx context.Context, userID domain.UserID) (domain.ThreadID, error) {
	th, err := e.store.CreateThread(ctx, userID)
	if err != nil {
		return "", err
	}
	if err := e.SelectThread(ctx, th.ID); err != nil {
		// The thread exists; a failed subscription only costs live updates.
		e.log.Warn("subscription after thread creation failed", "thread_id", th.ID, "error", err)
	}
	return th.ID, nil
}

// maybeInferTitle runs title inference at most once per thread per session.
// The store's placeholder guard makes the write itself idempotent.
func (e *Engine) maybeInferTitle(ctx context.Context, userID domain.UserID, threadID domain.ThreadID, firstText string) {
	e.mu.Lock()
	if e.titled[threadID] {
		e.mu.Unlock()
		return
	}
	e.titled[threadID] = true
	e.mu.Unlock()

	if err := e.store.RenameThread(ctx, userID, threadID, title.FromFirstMessage(firstText)); err != nil {
		e.log.Warn("title inference rename failed", "thread_id", threadID, "error", err)
	}
}

// annotateFailure writes the failure into the thread timeline as an
// assistant message. When no thread exists yet one is created first. A
// failure while writing the annotation itself is the double fault: it is
// logged and swallowed, never re-raised.
func (e *Engine) annotateFailure(ctx context.Context, userID domain.UserID, threadID domain.ThreadID, cause error) {
	if threadID == "" {
		th, err := e.store.CreateThread(ctx, userID)
		if err != nil {
			e.log.Error("double fault: no thread for failure annotation", "error", err)
			return
		}
		threadID = th.ID
		if err := e.SelectThread(ctx, threadID); err != nil {
			e.log.Warn("subscription for failure thread", "thread_id", threadID, "error", err)
		}
	}

	if _, err := e.store.AppendMessage(ctx, userID, threadID, domain.RoleAssistant, failureAnnotation(cause)); err != nil {
		e.log.Error("double fault: failure annotation not written", "thread_id", threadID, "error", err)
		return
	}
	if err := e.store.TouchThread(ctx, userID, threadID); err != nil {
		e.log.Warn("touch after failure annotation", "thread_id", threadID, "error", err)
	}
}

// failureAnnotation renders a user-visible description of the failure,
// carrying the HTTP status when one is known.
func failureAnnotation(cause error) string {
	var gerr *domain.GatewayError
	switch {
	case errors.As(cause, &gerr):
		return "⚠️ " + gerr.UserFacing()
	case errors.Is(cause, domain.ErrStoreUnavailable):
		return "⚠️ Could not reach the conversation store. Please try again."
	case errors.Is(cause, domain.ErrThreadNotFound):
		return "⚠️ This conversation no longer exists."
	default:
		return "⚠️ " + cause.Error()
	}
}
