package engine

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/polyagent/polyagent/internal/domain"
)

// ─────────────────────────────────────────────
// Test doubles
// ─────────────────────────────────────────────

type appendRec struct {
	threadID domain.ThreadID
	role     domain.Role
	content  string
}

type msgSub struct {
	threadID domain.ThreadID
	cb       func([]*domain.Message)
	closed   bool
}

// fakeStore records every write and hands subscription callbacks to the
// test, which controls delivery timing explicitly.
type fakeStore struct {
	mu      sync.Mutex
	seq     int
	base    time.Time
	threads map[domain.ThreadID]*domain.Thread
	msgs    map[domain.ThreadID][]*domain.Message

	appends []appendRec
	renames []string
	touches int

	createErr  error
	appendErrs []error // consumed one per AppendMessage call; nil means success
	touchErr   error

	threadCB func([]*domain.Thread)
	msgSubs  []*msgSub
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		base:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		threads: make(map[domain.ThreadID]*domain.Thread),
		msgs:    make(map[domain.ThreadID][]*domain.Message),
	}
}

func (s *fakeStore) next() (int, time.Time) {
	s.seq++
	return s.seq, s.base.Add(time.Duration(s.seq) * time.Second)
}

func (s *fakeStore) CreateThread(ctx context.Context, userID domain.UserID) (*domain.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.createErr != nil {
		return nil, s.createErr
	}

	n, now := s.next()
	th := &domain.Thread{
		ID:        domain.ThreadID(string(rune('a' + n))),
		UserID:    userID,
		Title:     domain.DefaultTitle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.threads[th.ID] = th
	s.msgs[th.ID] = []*domain.Message{{
		ID:        domain.MessageID("seed"),
		ThreadID:  th.ID,
		Role:      domain.RoleAssistant,
		Content:   domain.Greeting,
		CreatedAt: now,
	}}
	out := *th
	return &out, nil
}

func (s *fakeStore) AppendMessage(ctx context.Context, userID domain.UserID, threadID domain.ThreadID, role domain.Role, content string) (domain.MessageID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.appendErrs) > 0 {
		err := s.appendErrs[0]
		s.appendErrs = s.appendErrs[1:]
		if err != nil {
			return "", err
		}
	}
	if _, ok := s.threads[threadID]; !ok {
		return "", domain.ErrThreadNotFound
	}

	n, now := s.next()
	msg := &domain.Message{
		ID:        domain.MessageID(string(rune('A' + n))),
		ThreadID:  threadID,
		Role:      role,
		Content:   content,
		CreatedAt: now,
	}
	s.msgs[threadID] = append(s.msgs[threadID], msg)
	s.appends = append(s.appends, appendRec{threadID: threadID, role: role, content: content})
	return msg.ID, nil
}

func (s *fakeStore) TouchThread(ctx context.Context, userID domain.UserID, threadID domain.ThreadID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.touchErr != nil {
		return s.touchErr
	}
	s.touches++
	return nil
}

func (s *fakeStore) RenameThread(ctx context.Context, userID domain.UserID, threadID domain.ThreadID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	th, ok := s.threads[threadID]
	if !ok {
		return domain.ErrThreadNotFound
	}
	s.renames = append(s.renames, title)
	if th.Title != domain.DefaultTitle {
		return nil
	}
	th.Title = title
	return nil
}

func (s *fakeStore) SubscribeThreads(ctx context.Context, userID domain.UserID, onChange func([]*domain.Thread)) (domain.Unsubscribe, error) {
	s.mu.Lock()
	s.threadCB = onChange
	s.mu.Unlock()
	onChange(nil) // initial snapshot, empty
	return func() {}, nil
}

func (s *fakeStore) SubscribeMessages(ctx context.Context, userID domain.UserID, threadID domain.ThreadID, onChange func([]*domain.Message)) (domain.Unsubscribe, error) {
	sub := &msgSub{threadID: threadID, cb: onChange}
	s.mu.Lock()
	s.msgSubs = append(s.msgSubs, sub)
	snapshot := append([]*domain.Message(nil), s.msgs[threadID]...)
	s.mu.Unlock()
	onChange(snapshot)
	return func() {
		s.mu.Lock()
		sub.closed = true
		s.mu.Unlock()
	}, nil
}

func (s *fakeStore) appended() []appendRec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]appendRec(nil), s.appends...)
}

func (s *fakeStore) lastMsgSub() *msgSub {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.msgSubs) == 0 {
		return nil
	}
	return s.msgSubs[len(s.msgSubs)-1]
}

type fakeGateway struct {
	mu      sync.Mutex
	reply   string
	err     error
	calls   [][]domain.Turn
	opts    []domain.CompletionOptions
	entered chan struct{}
	release chan struct{}
}

func (g *fakeGateway) Complete(ctx context.Context, history []domain.Turn, opts domain.CompletionOptions, token string) (string, error) {
	g.mu.Lock()
	g.calls = append(g.calls, append([]domain.Turn(nil), history...))
	g.opts = append(g.opts, opts)
	entered, release := g.entered, g.release
	reply, err := g.reply, g.err
	g.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if release != nil {
		<-release
	}
	return reply, err
}

type staticTokens struct{ token string }

func (s staticTokens) Token(ctx context.Context) (string, error) { return s.token, nil }

type staticModes struct {
	mode domain.Mode
	lang string
}

func (m staticModes) EffectiveMode() domain.Mode { return m.mode }
func (m staticModes) Language() string           { return m.lang }

func newTestEngine(store *fakeStore, gw *fakeGateway) *Engine {
	return New(store, gw, staticTokens{token: "tok"}, staticModes{mode: domain.ModeFast, lang: "English"})
}

// ─────────────────────────────────────────────
// Send path
// ─────────────────────────────────────────────

func TestSendMessageFirstSendScenario(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	gw := &fakeGateway{reply: "Hello! How can I help?"}
	e := newTestEngine(store, gw)

	if err := e.SwitchIdentity(ctx, "u1"); err != nil {
		t.Fatalf("SwitchIdentity: %v", err)
	}

	e.SendMessage(ctx, "Hello")

	appends := store.appended()
	if len(appends) != 2 {
		t.Fatalf("appends = %d (%v), want user then assistant", len(appends), appends)
	}
	if appends[0].role != domain.RoleUser || appends[0].content != "Hello" {
		t.Fatalf("first append = %+v, want user %q", appends[0], "Hello")
	}
	if appends[1].role != domain.RoleAssistant || appends[1].content != "Hello! How can I help?" {
		t.Fatalf("second append = %+v", appends[1])
	}

	// Thread was created with the placeholder and renamed from the first
	// user message.
	th := store.threads[appends[0].threadID]
	if th == nil || th.Title != "Hello" {
		t.Fatalf("thread = %+v, want title %q", th, "Hello")
	}

	// The outgoing history carries role/content only: the locally-known
	// sequence plus the just-sent user message.
	if len(gw.calls) != 1 {
		t.Fatalf("gateway calls = %d, want 1", len(gw.calls))
	}
	last := gw.calls[0][len(gw.calls[0])-1]
	if last.Role != domain.RoleUser || last.Content != "Hello" {
		t.Fatalf("last outgoing turn = %+v", last)
	}

	if e.View().SendInFlight {
		t.Fatal("sendInFlight still true after send")
	}
}

func TestSendMessageTrimsInput(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	gw := &fakeGateway{reply: "ok"}
	e := newTestEngine(store, gw)
	_ = e.SwitchIdentity(ctx, "u1")

	e.SendMessage(ctx, "  Hello there  \n")

	appends := store.appended()
	if len(appends) == 0 || appends[0].content != "Hello there" {
		t.Fatalf("appends = %+v, want trimmed user content", appends)
	}
}

func TestSendMessageBlankInputIsNoOp(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	e := newTestEngine(store, &fakeGateway{})
	_ = e.SwitchIdentity(ctx, "u1")

	e.SendMessage(ctx, "")
	e.SendMessage(ctx, "   ")
	e.SendMessage(ctx, " \t\n ")

	if len(store.threads) != 0 {
		t.Fatalf("threads created = %d, want 0", len(store.threads))
	}
	if got := store.appended(); len(got) != 0 {
		t.Fatalf("store writes = %v, want none", got)
	}
}

func TestSendMessageWithoutIdentityIsNoOp(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(store, &fakeGateway{})

	e.SendMessage(context.Background(), "Hello")

	if len(store.threads) != 0 || len(store.appended()) != 0 {
		t.Fatal("send without identity must not touch the store")
	}
}

func TestSendMessageDropsConcurrentSend(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	gw := &fakeGateway{
		reply:   "first",
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	e := newTestEngine(store, gw)
	_ = e.SwitchIdentity(ctx, "u1")

	done := make(chan struct{})
	go func() {
		e.SendMessage(ctx, "one")
		close(done)
	}()

	<-gw.entered // first send is now blocked inside the gateway

	if !e.View().SendInFlight {
		t.Fatal("sendInFlight should be true while blocked in the gateway")
	}
	e.SendMessage(ctx, "two") // dropped, not queued

	close(gw.release)
	<-done

	var userTurns []string
	for _, a := range store.appended() {
		if a.role == domain.RoleUser {
			userTurns = append(userTurns, a.content)
		}
	}
	if len(userTurns) != 1 || userTurns[0] != "one" {
		t.Fatalf("user turns = %v, want just the first send", userTurns)
	}
}

func TestSendMessageGatewayFailureAnnotatedOnce(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	gw := &fakeGateway{err: &domain.GatewayError{Kind: domain.GatewayUnreachable, Message: "request failed"}}
	e := newTestEngine(store, gw)
	_ = e.SwitchIdentity(ctx, "u1")

	e.SendMessage(ctx, "Hello")

	appends := store.appended()
	if len(appends) != 2 {
		t.Fatalf("appends = %+v, want user turn plus one annotation", appends)
	}
	if appends[0].role != domain.RoleUser || appends[0].content != "Hello" {
		t.Fatalf("user turn missing: %+v", appends[0])
	}
	if appends[1].role != domain.RoleAssistant || !strings.Contains(appends[1].content, "⚠️") {
		t.Fatalf("annotation = %+v", appends[1])
	}
	if e.View().SendInFlight {
		t.Fatal("sendInFlight must reset after failure")
	}
}

func TestSendMessageAnnotationCarriesStatus(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	gw := &fakeGateway{err: &domain.GatewayError{Kind: domain.GatewayServerError, Status: 502, Message: "AI chat failed"}}
	e := newTestEngine(store, gw)
	_ = e.SwitchIdentity(ctx, "u1")

	e.SendMessage(ctx, "Hello")

	appends := store.appended()
	annotation := appends[len(appends)-1].content
	if !strings.Contains(annotation, "HTTP 502") {
		t.Fatalf("annotation %q should carry the status", annotation)
	}
}

func TestSendMessageThreadCreationFailurePreservesInput(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.createErr = domain.ErrStoreUnavailable
	e := newTestEngine(store, &fakeGateway{})
	_ = e.SwitchIdentity(ctx, "u1")

	e.SendMessage(ctx, "Hello")

	view := e.View()
	if view.PendingInput != "Hello" {
		t.Fatalf("pendingInput = %q, want input preserved", view.PendingInput)
	}
	if view.SendInFlight {
		t.Fatal("sendInFlight must reset even on double fault")
	}
	// The annotation path also fails to create a thread: the double fault is
	// swallowed, nothing was written.
	if len(store.appended()) != 0 {
		t.Fatalf("appends = %v, want none", store.appended())
	}
}

func TestSendMessageUserPersistFailureAnnotates(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.appendErrs = []error{domain.ErrStoreUnavailable} // first append fails
	e := newTestEngine(store, &fakeGateway{reply: "unused"})
	_ = e.SwitchIdentity(ctx, "u1")

	e.SendMessage(ctx, "Hello")

	appends := store.appended()
	if len(appends) != 1 || appends[0].role != domain.RoleAssistant {
		t.Fatalf("appends = %+v, want only the annotation", appends)
	}
	if !strings.Contains(appends[0].content, "⚠️") {
		t.Fatalf("annotation = %q", appends[0].content)
	}
	if e.View().SendInFlight {
		t.Fatal("sendInFlight must reset")
	}
}

func TestTitleInferenceRunsOncePerThread(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	gw := &fakeGateway{reply: "ok"}
	e := newTestEngine(store, gw)
	_ = e.SwitchIdentity(ctx, "u1")

	e.SendMessage(ctx, "first message here")
	e.SendMessage(ctx, "second message here")

	if len(store.renames) != 1 {
		t.Fatalf("renames = %v, want exactly one", store.renames)
	}
	if store.renames[0] != "first message here" {
		t.Fatalf("title = %q", store.renames[0])
	}
}

func TestSendMessageUsesEffectiveModeAndLanguage(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	gw := &fakeGateway{reply: "ok"}
	e := New(store, gw, staticTokens{token: "tok"}, staticModes{mode: domain.ModeAdvanced, lang: "Spanish"})
	_ = e.SwitchIdentity(ctx, "u1")

	e.SendMessage(ctx, "hola")

	if len(gw.opts) != 1 {
		t.Fatalf("gateway calls = %d", len(gw.opts))
	}
	if gw.opts[0].Mode != domain.ModeAdvanced || gw.opts[0].Language != "Spanish" {
		t.Fatalf("options = %+v", gw.opts[0])
	}
}

func TestSendMessageEmptyReplyFallback(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	gw := &fakeGateway{reply: ""}
	e := newTestEngine(store, gw)
	_ = e.SwitchIdentity(ctx, "u1")

	e.SendMessage(ctx, "Hello")

	appends := store.appended()
	if appends[len(appends)-1].content != fallbackReply {
		t.Fatalf("reply = %q, want fallback", appends[len(appends)-1].content)
	}
}

// ─────────────────────────────────────────────
// View and subscriptions
// ─────────────────────────────────────────────

func TestSelectThreadClearsMessagesSynchronously(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	e := newTestEngine(store, &fakeGateway{})
	_ = e.SwitchIdentity(ctx, "u1")

	a, err := store.CreateThread(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	b, err := store.CreateThread(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}

	if err := e.SelectThread(ctx, a.ID); err != nil {
		t.Fatal(err)
	}
	if got := e.View().Messages; len(got) == 0 {
		t.Fatal("expected thread a's initial snapshot")
	}

	subA := store.lastMsgSub()

	if err := e.SelectThread(ctx, b.ID); err != nil {
		t.Fatal(err)
	}
	if !subA.closed {
		t.Fatal("previous subscription must be torn down before the new one is set up")
	}
	if e.View().ActiveThreadID != b.ID {
		t.Fatalf("active = %s, want %s", e.View().ActiveThreadID, b.ID)
	}
}

func TestStaleDeliveryFromPreviousThreadDiscarded(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	e := newTestEngine(store, &fakeGateway{})
	_ = e.SwitchIdentity(ctx, "u1")

	a, _ := store.CreateThread(ctx, "u1")
	b, _ := store.CreateThread(ctx, "u1")

	if err := e.SelectThread(ctx, a.ID); err != nil {
		t.Fatal(err)
	}
	subA := store.lastMsgSub()

	if err := e.SelectThread(ctx, b.ID); err != nil {
		t.Fatal(err)
	}

	// A late-arriving delivery for thread a, after b's subscription has
	// already delivered, must be discarded.
	subA.cb([]*domain.Message{{ID: "stale", ThreadID: a.ID, Role: domain.RoleUser, Content: "old thread"}})

	for _, m := range e.View().Messages {
		if m.ThreadID == a.ID {
			t.Fatalf("view holds message from thread %s after selecting %s", a.ID, b.ID)
		}
	}
}

func TestThreadSnapshotAutoSelectsFirstThread(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	e := newTestEngine(store, &fakeGateway{})
	_ = e.SwitchIdentity(ctx, "u1")

	th, _ := store.CreateThread(ctx, "u1")
	store.threadCB([]*domain.Thread{th})

	view := e.View()
	if view.ActiveThreadID != th.ID {
		t.Fatalf("active = %q, want auto-selected %s", view.ActiveThreadID, th.ID)
	}
	if len(view.Messages) != 1 || view.Messages[0].Content != domain.Greeting {
		t.Fatalf("messages = %+v, want seed greeting", view.Messages)
	}
}

func TestSwitchIdentityResetsViewAndDiscardsStaleDeliveries(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	e := newTestEngine(store, &fakeGateway{reply: "ok"})
	_ = e.SwitchIdentity(ctx, "u1")

	e.SendMessage(ctx, "Hello")
	staleThreadCB := store.threadCB
	staleMsgSub := store.lastMsgSub()

	if err := e.SwitchIdentity(ctx, "u2"); err != nil {
		t.Fatal(err)
	}

	view := e.View()
	if view.ActiveThreadID != "" || len(view.Messages) != 0 || len(view.Threads) != 0 {
		t.Fatalf("view after identity switch = %+v, want empty", view)
	}
	if view.PendingInput != "" || view.SendInFlight {
		t.Fatalf("view flags not reset: %+v", view)
	}

	// Deliveries for the old identity arrive late and must be ignored.
	staleThreadCB([]*domain.Thread{{ID: "zombie", UserID: "u1", Title: "old"}})
	if staleMsgSub != nil {
		staleMsgSub.cb([]*domain.Message{{ID: "zombie-msg", Role: domain.RoleUser, Content: "old"}})
	}

	view = e.View()
	if len(view.Threads) != 0 || len(view.Messages) != 0 {
		t.Fatalf("stale delivery leaked into new identity's view: %+v", view)
	}
}

func TestStartNewChat(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	e := newTestEngine(store, &fakeGateway{})

	if _, err := e.StartNewChat(ctx); err != domain.ErrAuthRequired {
		t.Fatalf("err = %v, want ErrAuthRequired without identity", err)
	}

	_ = e.SwitchIdentity(ctx, "u1")
	e.SetPendingInput("draft text")

	id, err := e.StartNewChat(ctx)
	if err != nil {
		t.Fatalf("StartNewChat: %v", err)
	}

	view := e.View()
	if view.ActiveThreadID != id {
		t.Fatalf("active = %s, want %s", view.ActiveThreadID, id)
	}
	if view.PendingInput != "" {
		t.Fatal("pending input must clear on new chat")
	}
	if len(view.Messages) != 1 || view.Messages[0].Content != domain.Greeting {
		t.Fatalf("messages = %+v, want the seed greeting", view.Messages)
	}
}

func TestFilterThreads(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	e := newTestEngine(store, &fakeGateway{})
	_ = e.SwitchIdentity(ctx, "u1")

	store.threadCB([]*domain.Thread{
		{ID: "t1", Title: "Trip to Lisbon"},
		{ID: "t2", Title: "Grocery list"},
		{ID: "t3", Title: "lisbon food spots"},
	})

	got := e.FilterThreads("lisbon")
	if len(got) != 2 {
		t.Fatalf("filtered = %d threads, want 2", len(got))
	}
	if all := e.FilterThreads("  "); len(all) != 3 {
		t.Fatalf("blank query should return everything, got %d", len(all))
	}
}

func TestAttachFilesRecordsTimelineTurns(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	e := newTestEngine(store, &fakeGateway{})
	_ = e.SwitchIdentity(ctx, "u1")

	err := e.AttachFiles(ctx, []Attachment{
		{Name: "notes.pdf", Size: 2048},
		{Name: "photo.jpg", Size: 10240},
	})
	if err != nil {
		t.Fatalf("AttachFiles: %v", err)
	}

	appends := store.appended()
	if len(appends) != 2 {
		t.Fatalf("appends = %+v, want attachment turn plus acknowledgement", appends)
	}
	if appends[0].role != domain.RoleUser || !strings.Contains(appends[0].content, "notes.pdf (2 KB)") {
		t.Fatalf("attachment turn = %+v", appends[0])
	}
	if appends[1].role != domain.RoleAssistant {
		t.Fatalf("acknowledgement = %+v", appends[1])
	}
}
