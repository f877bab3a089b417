package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"docchat/internal/util"
	"docchat/pkg/ai"
	"docchat/pkg/domain"
)

const (
	defaultSessionTitle = "New chat"
	historyWindow       = 20
)

const upstreamFailureNotice = "Sorry, I could not generate an answer. Please try again."

// CreateSession opens a conversation thread, optionally bound to one of the
// caller's documents. Client-generated session IDs are accepted.
func (a *App) CreateSession(user domain.User, id, title, documentID string) (domain.Session, error) {
	documentID = strings.TrimSpace(documentID)
	title = strings.TrimSpace(title)
	if documentID != "" {
		doc, err := a.ownedDocument(user, documentID)
		if err != nil {
			return domain.Session{}, err
		}
		if title == "" {
			title = doc.Filename
		}
	}
	if title == "" {
		title = defaultSessionTitle
	}
	id = strings.TrimSpace(id)
	if id == "" {
		id = util.NewID()
	}
	// Client-generated IDs make creation retry-safe: an existing owned
	// session is returned as-is, someone else's ID is rejected.
	if existing, ok, err := a.store.GetSession(id); err != nil {
		return domain.Session{}, fmt.Errorf("check session: %w", err)
	} else if ok {
		if existing.UserID != user.ID {
			return domain.Session{}, ErrForbidden
		}
		return existing, nil
	}
	now := time.Now().UTC()
	session := domain.Session{
		ID:         id,
		UserID:     user.ID,
		DocumentID: documentID,
		Title:      title,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := a.store.CreateSession(session); err != nil {
		return domain.Session{}, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// ListSessions returns the caller's sessions, most recently active first.
func (a *App) ListSessions(user domain.User) ([]domain.Session, error) {
	return a.store.ListSessionsByUser(user.ID)
}

// GetSession returns one owned session.
func (a *App) GetSession(user domain.User, id string) (domain.Session, error) {
	return a.ownedSession(user, id)
}

// RenameSession sets a new title on an owned session.
func (a *App) RenameSession(user domain.User, id, title string) (domain.Session, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.Session{}, ErrTitleRequired
	}
	session, err := a.ownedSession(user, id)
	if err != nil {
		return domain.Session{}, err
	}
	if err := a.store.UpdateSession(session.ID, title); err != nil {
		return domain.Session{}, fmt.Errorf("update session: %w", err)
	}
	session.Title = title
	session.UpdatedAt = time.Now().UTC()
	return session, nil
}

// DeleteSession removes a session and its messages.
func (a *App) DeleteSession(user domain.User, id string) error {
	session, err := a.ownedSession(user, id)
	if err != nil {
		return err
	}
	if err := a.store.DeleteSession(session.ID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// GetHistory returns the session's messages in chronological order.
func (a *App) GetHistory(user domain.User, sessionID string) ([]domain.Message, error) {
	session, err := a.ownedSession(user, sessionID)
	if err != nil {
		return nil, err
	}
	return a.store.ListMessages(session.ID)
}

// AppendMessages stores caller-supplied messages verbatim, preserving their
// order. Used by clients that sync transcripts.
func (a *App) AppendMessages(user domain.User, sessionID string, msgs []domain.Message) ([]domain.Message, error) {
	session, err := a.ownedSession(user, sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Message, 0, len(msgs))
	for _, msg := range msgs {
		if strings.TrimSpace(msg.Content) == "" {
			return nil, ErrPromptRequired
		}
		sender := msg.Sender
		if sender != domain.SenderUser && sender != domain.SenderAI {
			return nil, fmt.Errorf("unknown sender %q: %w", sender, ErrPromptRequired)
		}
		stored := msg
		stored.ID = util.NewID()
		stored.SessionID = session.ID
		if stored.Timestamp.IsZero() {
			stored.Timestamp = time.Now().UTC()
		}
		out = append(out, stored)
	}
	if err := a.store.AppendMessages(session.ID, out); err != nil {
		return nil, fmt.Errorf("append messages: %w", err)
	}
	return out, nil
}

// Send relays a prompt to the generator and persists both sides of the
// exchange. On upstream failure an error-flagged ai message is still stored
// and ErrUpstream is returned.
func (a *App) Send(ctx context.Context, user domain.User, sessionID, prompt string) (domain.Message, error) {
	return a.send(ctx, user, sessionID, prompt, nil)
}

// SendStream behaves like Send but forwards answer fragments to onChunk as
// they arrive. The persisted ai message is the concatenation of all chunks.
func (a *App) SendStream(ctx context.Context, user domain.User, sessionID, prompt string, onChunk func(string)) (domain.Message, error) {
	return a.send(ctx, user, sessionID, prompt, onChunk)
}

func (a *App) send(ctx context.Context, user domain.User, sessionID, prompt string, onChunk func(string)) (domain.Message, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return domain.Message{}, ErrPromptRequired
	}
	session, err := a.ownedSession(user, sessionID)
	if err != nil {
		return domain.Message{}, err
	}
	history, err := a.store.ListMessages(session.ID)
	if err != nil {
		return domain.Message{}, fmt.Errorf("load history: %w", err)
	}

	userMsg := domain.Message{
		ID:        util.NewID(),
		SessionID: session.ID,
		Sender:    domain.SenderUser,
		Content:   prompt,
		Timestamp: time.Now().UTC(),
	}
	if err := a.store.AppendMessages(session.ID, []domain.Message{userMsg}); err != nil {
		return domain.Message{}, fmt.Errorf("record prompt: %w", err)
	}

	scope, err := a.sessionScope(user, session)
	if err != nil {
		return domain.Message{}, err
	}
	req := ai.Request{
		Scope:   scope,
		Prompt:  prompt,
		History: historyTurns(history),
	}

	genCtx, cancel := context.WithTimeout(ctx, a.answerTimeout)
	defer cancel()
	var completion ai.Completion
	if onChunk != nil {
		completion, err = a.generator.GenerateStream(genCtx, req, onChunk)
	} else {
		completion, err = a.generator.Generate(genCtx, req)
	}
	if err != nil {
		util.LoggerFromContext(ctx).Warn("generation_failed",
			"session_id", session.ID,
			"error", err.Error(),
		)
		failure := domain.Message{
			ID:        util.NewID(),
			SessionID: session.ID,
			Sender:    domain.SenderAI,
			Content:   upstreamFailureNotice,
			Error:     true,
			Timestamp: time.Now().UTC(),
		}
		if storeErr := a.store.AppendMessages(session.ID, []domain.Message{failure}); storeErr != nil {
			util.LoggerFromContext(ctx).Error("record_failure_message", "session_id", session.ID, "error", storeErr.Error())
		}
		return domain.Message{}, ErrUpstream
	}

	answer := domain.Message{
		ID:        util.NewID(),
		SessionID: session.ID,
		Sender:    domain.SenderAI,
		Content:   completion.Text,
		Citations: citationsFrom(completion.Citations),
		Timestamp: time.Now().UTC(),
	}
	if err := a.store.AppendMessages(session.ID, []domain.Message{answer}); err != nil {
		return domain.Message{}, fmt.Errorf("record answer: %w", err)
	}
	return answer, nil
}

func (a *App) ownedSession(user domain.User, id string) (domain.Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Session{}, ErrNotFound
	}
	session, ok, err := a.store.GetSession(id)
	if err != nil {
		return domain.Session{}, fmt.Errorf("lookup session: %w", err)
	}
	if !ok {
		return domain.Session{}, ErrNotFound
	}
	if session.UserID != user.ID && user.Role != domain.RoleAdmin {
		return domain.Session{}, ErrForbidden
	}
	return session, nil
}

// sessionScope builds the opaque corpus identifier handed to the generator.
// It mirrors the naming used when the document corpus was indexed:
// user_{userId}_doc_{sanitized filename}.
func (a *App) sessionScope(user domain.User, session domain.Session) (string, error) {
	if session.DocumentID == "" {
		return "", nil
	}
	doc, ok, err := a.store.GetDocument(session.DocumentID)
	if err != nil {
		return "", fmt.Errorf("lookup document: %w", err)
	}
	if !ok {
		return "", nil
	}
	return fmt.Sprintf("user_%s_doc_%s", user.ID, sanitizeFilename(doc.Filename)), nil
}

func historyTurns(msgs []domain.Message) []ai.Turn {
	if len(msgs) > historyWindow {
		msgs = msgs[len(msgs)-historyWindow:]
	}
	turns := make([]ai.Turn, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Error {
			continue
		}
		role := "user"
		if msg.Sender == domain.SenderAI {
			role = "assistant"
		}
		turns = append(turns, ai.Turn{Role: role, Content: msg.Content})
	}
	return turns
}

func citationsFrom(src []ai.Citation) []domain.Citation {
	if len(src) == 0 {
		return nil
	}
	out := make([]domain.Citation, 0, len(src))
	for _, c := range src {
		out = append(out, domain.Citation{Text: c.Text, Page: c.Page})
	}
	return out
}
