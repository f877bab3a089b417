package app

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"docchat/internal/processor"
	"docchat/pkg/ai"
	"docchat/pkg/domain"
	"docchat/pkg/storage"
	"docchat/pkg/store"
	"docchat/pkg/token"
)

type stubGenerator struct {
	text      string
	citations []ai.Citation
	chunks    []string
	err       error
	lastReq   ai.Request
}

func (g *stubGenerator) Generate(ctx context.Context, req ai.Request) (ai.Completion, error) {
	g.lastReq = req
	if g.err != nil {
		return ai.Completion{}, g.err
	}
	return ai.Completion{Text: g.text, Citations: g.citations}, nil
}

func (g *stubGenerator) GenerateStream(ctx context.Context, req ai.Request, onChunk func(string)) (ai.Completion, error) {
	g.lastReq = req
	if g.err != nil {
		return ai.Completion{}, g.err
	}
	var full strings.Builder
	for _, chunk := range g.chunks {
		full.WriteString(chunk)
		if onChunk != nil {
			onChunk(chunk)
		}
	}
	return ai.Completion{Text: full.String(), Citations: g.citations}, nil
}

type testEnv struct {
	app       *App
	store     *store.MemoryStore
	objects   *storage.MemoryObjectStore
	generator *stubGenerator
}

func newTestApp(t *testing.T) *testEnv {
	t.Helper()
	dataStore := store.NewMemoryStore()
	objects := storage.NewMemoryObjectStore()
	proc, err := processor.New(processor.Config{Store: dataStore, Objects: objects, Concurrency: 2, TaskTimeout: 30 * time.Second})
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	tokens, err := token.NewManager("test-secret", "docchat", time.Hour)
	if err != nil {
		t.Fatalf("new token manager: %v", err)
	}
	gen := &stubGenerator{text: "stub answer"}
	application, err := New(Config{
		Store:     dataStore,
		Objects:   objects,
		Processor: proc,
		Generator: gen,
		Tokens:    tokens,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return &testEnv{app: application, store: dataStore, objects: objects, generator: gen}
}

func registerUser(t *testing.T, a *App, username string) domain.User {
	t.Helper()
	user, _, err := a.Register(username, "password123", "", "")
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	return user
}

func waitForTerminalStatus(t *testing.T, s *store.MemoryStore, id string) domain.Document {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		doc, ok, _ := s.GetDocument(id)
		if ok && doc.Status != domain.StatusProcessing {
			return doc
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("document %s never left processing", id)
	return domain.Document{}
}

func TestRegisterLoginAndToken(t *testing.T) {
	env := newTestApp(t)
	user, signed, err := env.app.Register("Alice", "password123", "a@example.com", "Alice")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Username != "alice" {
		t.Fatalf("expected lowercased username, got %q", user.Username)
	}
	if user.Role != domain.RoleAdmin {
		t.Fatalf("first user should be admin, got %s", user.Role)
	}
	if signed == "" {
		t.Fatalf("expected a token")
	}

	resolved, err := env.app.UserFromToken(signed)
	if err != nil {
		t.Fatalf("user from token: %v", err)
	}
	if resolved.ID != user.ID {
		t.Fatalf("token resolved to wrong user")
	}

	second := registerUser(t, env.app, "bob")
	if second.Role != domain.RoleUser {
		t.Fatalf("second user should not be admin")
	}

	if _, _, err := env.app.Register("alice", "password123", "", ""); !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}

	if _, _, err := env.app.Login("alice", "password123"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, _, err := env.app.Login("alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for bad password, got %v", err)
	}
	if _, _, err := env.app.Login("nobody", "password123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
}

func TestUserFromTokenRejectsGarbage(t *testing.T) {
	env := newTestApp(t)
	if _, err := env.app.UserFromToken("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestUploadValidation(t *testing.T) {
	env := newTestApp(t)
	user := registerUser(t, env.app, "alice")

	if _, err := env.app.Upload(user, "malware.exe", bytes.NewReader([]byte("x")), 1); !errors.Is(err, ErrUnsupportedFileType) {
		t.Fatalf("expected ErrUnsupportedFileType, got %v", err)
	}
	big := int64(defaultMaxUploadBytes + 1)
	if _, err := env.app.Upload(user, "big.txt", bytes.NewReader(nil), big); !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("expected ErrFileTooLarge, got %v", err)
	}
	if _, err := env.app.Upload(user, "empty.txt", bytes.NewReader(nil), 0); !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("expected ErrFileTooLarge for empty file, got %v", err)
	}
	if _, err := env.app.Upload(user, "", bytes.NewReader([]byte("x")), 1); !errors.Is(err, ErrFilenameRequired) {
		t.Fatalf("expected ErrFilenameRequired, got %v", err)
	}
}

func TestUploadAndProcess(t *testing.T) {
	env := newTestApp(t)
	user := registerUser(t, env.app, "alice")

	payload := []byte("Chapter one. The expedition started at dawn with heavy equipment.")
	doc, err := env.app.Upload(user, "journal.txt", bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if doc.Status != domain.StatusProcessing {
		t.Fatalf("upload should return processing record, got %s", doc.Status)
	}

	final := waitForTerminalStatus(t, env.store, doc.ID)
	if final.Status != domain.StatusReady {
		t.Fatalf("expected ready, got %s (%s)", final.Status, final.ErrorMessage)
	}
	if !strings.Contains(final.Content, "expedition") {
		t.Fatalf("content missing: %q", final.Content)
	}
	if env.objects.Has(doc.StagingKey) {
		t.Fatalf("staged copy should be gone")
	}

	url, filename, err := env.app.DownloadURL(user, doc.ID)
	if err != nil {
		t.Fatalf("download url: %v", err)
	}
	if url == "" || filename != "journal.txt" {
		t.Fatalf("unexpected download url %q filename %q", url, filename)
	}
}

func TestDocumentOwnership(t *testing.T) {
	env := newTestApp(t)
	_ = registerUser(t, env.app, "admin")
	alice := registerUser(t, env.app, "alice")
	mallory := registerUser(t, env.app, "mallory")

	payload := []byte("private notes")
	doc, err := env.app.Upload(alice, "secret.txt", bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	waitForTerminalStatus(t, env.store, doc.ID)

	if _, err := env.app.GetDocument(mallory, doc.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := env.app.DeleteDocument(mallory, doc.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden on delete, got %v", err)
	}
	if _, err := env.app.GetDocument(alice, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	docs, err := env.app.ListDocuments(mallory)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 0 {
		t.Fatalf("mallory should see no documents, got %d", len(docs))
	}
}

func TestDeleteDocumentCascades(t *testing.T) {
	env := newTestApp(t)
	user := registerUser(t, env.app, "alice")

	payload := []byte("to be deleted")
	doc, err := env.app.Upload(user, "gone.txt", bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	final := waitForTerminalStatus(t, env.store, doc.ID)

	session, err := env.app.CreateSession(user, "", "", doc.ID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if session.Title != "gone.txt" {
		t.Fatalf("expected title from filename, got %q", session.Title)
	}

	if err := env.app.DeleteDocument(user, doc.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.app.GetSession(user, session.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("session should be gone, got %v", err)
	}
	if final.StorageKey != "" && env.objects.Has(final.StorageKey) {
		t.Fatalf("retained copy should be gone")
	}
}

func TestSendPersistsBothSides(t *testing.T) {
	env := newTestApp(t)
	user := registerUser(t, env.app, "alice")

	payload := []byte("The treaty was signed in 1648.")
	doc, err := env.app.Upload(user, "history.txt", bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	waitForTerminalStatus(t, env.store, doc.ID)

	session, err := env.app.CreateSession(user, "", "", doc.ID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	env.generator.text = "It was signed in 1648."
	env.generator.citations = []ai.Citation{{Text: "The treaty was signed in 1648.", Page: 1}}

	answer, err := env.app.Send(context.Background(), user, session.ID, "When was the treaty signed?")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if answer.Sender != domain.SenderAI || answer.Content != "It was signed in 1648." {
		t.Fatalf("unexpected answer %+v", answer)
	}
	if len(answer.Citations) != 1 {
		t.Fatalf("expected citations to be carried through")
	}
	wantScope := "user_" + user.ID + "_doc_history.txt"
	if env.generator.lastReq.Scope != wantScope {
		t.Fatalf("scope = %q, want %q", env.generator.lastReq.Scope, wantScope)
	}

	history, err := env.app.GetHistory(user, session.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(history))
	}
	if history[0].Sender != domain.SenderUser || history[1].Sender != domain.SenderAI {
		t.Fatalf("unexpected order: %s then %s", history[0].Sender, history[1].Sender)
	}
}

func TestSendUpstreamFailureIsRecorded(t *testing.T) {
	env := newTestApp(t)
	user := registerUser(t, env.app, "alice")
	session, err := env.app.CreateSession(user, "", "general", "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	env.generator.err = errors.New("backend down")

	if _, err := env.app.Send(context.Background(), user, session.ID, "hello?"); !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}

	history, err := env.app.GetHistory(user, session.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected prompt and failure notice, got %d messages", len(history))
	}
	if !history[1].Error || history[1].Sender != domain.SenderAI {
		t.Fatalf("expected error-flagged ai message, got %+v", history[1])
	}
}

func TestSendStreamConcatenatesChunks(t *testing.T) {
	env := newTestApp(t)
	user := registerUser(t, env.app, "alice")
	session, err := env.app.CreateSession(user, "client-id-1", "", "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if session.ID != "client-id-1" {
		t.Fatalf("client id should be honored, got %q", session.ID)
	}
	env.generator.chunks = []string{"The ", "answer ", "is 42."}

	var streamed []string
	answer, err := env.app.SendStream(context.Background(), user, session.ID, "question", func(c string) {
		streamed = append(streamed, c)
	})
	if err != nil {
		t.Fatalf("send stream: %v", err)
	}
	if answer.Content != "The answer is 42." {
		t.Fatalf("unexpected answer %q", answer.Content)
	}
	if strings.Join(streamed, "") != answer.Content {
		t.Fatalf("persisted answer must equal concatenated chunks")
	}
}

func TestSessionOwnership(t *testing.T) {
	env := newTestApp(t)
	alice := registerUser(t, env.app, "alice")
	mallory := registerUser(t, env.app, "mallory")

	session, err := env.app.CreateSession(alice, "", "mine", "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := env.app.GetSession(mallory, session.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := env.app.CreateSession(mallory, session.ID, "", ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("reusing someone else's session id should fail, got %v", err)
	}
	if err := env.app.DeleteSession(mallory, session.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden on delete, got %v", err)
	}

	// Idempotent re-create by the owner returns the existing session.
	again, err := env.app.CreateSession(alice, session.ID, "", "")
	if err != nil {
		t.Fatalf("re-create: %v", err)
	}
	if again.ID != session.ID || again.Title != "mine" {
		t.Fatalf("expected existing session back, got %+v", again)
	}
}

func TestAppendMessagesPreservesOrder(t *testing.T) {
	env := newTestApp(t)
	user := registerUser(t, env.app, "alice")
	session, err := env.app.CreateSession(user, "", "", "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	msgs := []domain.Message{
		{Sender: domain.SenderUser, Content: "one"},
		{Sender: domain.SenderAI, Content: "two"},
		{Sender: domain.SenderUser, Content: "three"},
	}
	stored, err := env.app.AppendMessages(user, session.ID, msgs)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(stored) != 3 {
		t.Fatalf("expected 3 stored messages")
	}
	history, _ := env.app.GetHistory(user, session.ID)
	for i, want := range []string{"one", "two", "three"} {
		if history[i].Content != want {
			t.Fatalf("position %d: got %q want %q", i, history[i].Content, want)
		}
	}

	if _, err := env.app.AppendMessages(user, session.ID, []domain.Message{{Sender: "bot", Content: "x"}}); err == nil {
		t.Fatalf("unknown sender should be rejected")
	}
}

func TestUploadSizeBoundary(t *testing.T) {
	dataStore := store.NewMemoryStore()
	objects := storage.NewMemoryObjectStore()
	proc, err := processor.New(processor.Config{Store: dataStore, Objects: objects, Concurrency: 2, TaskTimeout: 30 * time.Second})
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	tokens, err := token.NewManager("test-secret", "docchat", time.Hour)
	if err != nil {
		t.Fatalf("new token manager: %v", err)
	}
	application, err := New(Config{
		Store:          dataStore,
		Objects:        objects,
		Processor:      proc,
		Generator:      &stubGenerator{},
		Tokens:         tokens,
		MaxUploadBytes: 64,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	user := registerUser(t, application, "alice")

	atLimit := bytes.Repeat([]byte("a"), 64)
	doc, err := application.Upload(user, "exact.txt", bytes.NewReader(atLimit), int64(len(atLimit)))
	if err != nil {
		t.Fatalf("upload at exact ceiling should succeed: %v", err)
	}
	final := waitForTerminalStatus(t, dataStore, doc.ID)
	if final.Status != domain.StatusReady {
		t.Fatalf("expected ready, got %s (%s)", final.Status, final.ErrorMessage)
	}

	overLimit := bytes.Repeat([]byte("a"), 65)
	if _, err := application.Upload(user, "over.txt", bytes.NewReader(overLimit), int64(len(overLimit))); !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("one byte over the ceiling should fail with ErrFileTooLarge, got %v", err)
	}
}

func TestRenameSession(t *testing.T) {
	env := newTestApp(t)
	owner := registerUser(t, env.app, "alice")
	other, _, err := env.app.Register("mallory", "password123", "", "")
	if err != nil {
		t.Fatalf("register mallory: %v", err)
	}

	session, err := env.app.CreateSession(owner, "", "drafts", "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	renamed, err := env.app.RenameSession(owner, session.ID, "meeting notes")
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if renamed.Title != "meeting notes" {
		t.Fatalf("title = %q", renamed.Title)
	}
	fetched, err := env.app.GetSession(owner, session.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if fetched.Title != "meeting notes" {
		t.Fatalf("stored title = %q", fetched.Title)
	}

	if _, err := env.app.RenameSession(owner, session.ID, "  "); !errors.Is(err, ErrTitleRequired) {
		t.Fatalf("blank title should fail with ErrTitleRequired, got %v", err)
	}
	if _, err := env.app.RenameSession(other, session.ID, "stolen"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("foreign rename should fail with ErrForbidden, got %v", err)
	}
	if _, err := env.app.RenameSession(owner, "missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown session should fail with ErrNotFound, got %v", err)
	}
}

func TestDocumentContent(t *testing.T) {
	env := newTestApp(t)
	owner := registerUser(t, env.app, "alice")
	other, _, err := env.app.Register("mallory", "password123", "", "")
	if err != nil {
		t.Fatalf("register mallory: %v", err)
	}

	payload := []byte("The quarterly report covers revenue and churn.")
	doc, err := env.app.Upload(owner, "report.txt", bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	waitForTerminalStatus(t, env.store, doc.ID)

	full, err := env.app.DocumentContent(owner, doc.ID)
	if err != nil {
		t.Fatalf("document content: %v", err)
	}
	if !strings.Contains(full.Content, "quarterly report") {
		t.Fatalf("content = %q", full.Content)
	}

	if _, err := env.app.DocumentContent(other, doc.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("foreign content read should fail with ErrForbidden, got %v", err)
	}

	pending := domain.Document{
		ID:       "pending-1",
		UserID:   owner.ID,
		Filename: "pending.txt",
		Size:     1,
		Status:   domain.StatusProcessing,
	}
	if err := env.store.SaveDocument(pending); err != nil {
		t.Fatalf("save document: %v", err)
	}
	if _, err := env.app.DocumentContent(owner, pending.ID); !errors.Is(err, ErrDocumentNotReady) {
		t.Fatalf("processing document should fail with ErrDocumentNotReady, got %v", err)
	}
}
