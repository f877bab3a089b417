package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"docchat/pkg/domain"
)

// MemoryStore is an in-memory Store used in tests and local development.
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[string]domain.User
	documents map[string]domain.Document
	sessions  map[string]domain.Session
	messages  map[string][]domain.Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]domain.User),
		documents: make(map[string]domain.Document),
		sessions:  make(map[string]domain.Session),
		messages:  make(map[string][]domain.Message),
	}
}

func (s *MemoryStore) SaveUser(u domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	return nil
}

func (s *MemoryStore) HasUsername(username string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Username == username {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) GetUserByUsername(username string) (domain.User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Username == username {
			return u, true, nil
		}
	}
	return domain.User{}, false, nil
}

func (s *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u, ok, nil
}

func (s *MemoryStore) UserCount() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users), nil
}

func (s *MemoryStore) SaveDocument(d domain.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents[d.ID] = d
	return nil
}

func (s *MemoryStore) GetDocument(id string) (domain.Document, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.documents[id]
	return d, ok, nil
}

func (s *MemoryStore) ListDocumentsByOwner(ownerID string) ([]domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]domain.Document, 0)
	for _, d := range s.documents {
		if d.UserID == ownerID {
			res = append(res, d)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].UploadedAt.After(res[j].UploadedAt)
	})
	return res, nil
}

func (s *MemoryStore) SearchDocuments(ownerID, query string) ([]domain.Document, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return []domain.Document{}, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]domain.Document, 0)
	for _, d := range s.documents {
		if d.UserID != ownerID {
			continue
		}
		haystack := strings.ToLower(d.Filename + " " + d.Content + " " + d.Summary + " " + d.Keywords)
		if strings.Contains(haystack, query) {
			res = append(res, d)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].UploadedAt.After(res[j].UploadedAt)
	})
	return res, nil
}

func (s *MemoryStore) CompleteProcessing(id string, res Extraction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.documents[id]
	if !ok || d.Status != domain.StatusProcessing {
		return nil
	}
	d.Status = domain.StatusReady
	d.Content = res.Content
	d.Summary = res.Summary
	d.Keywords = res.Keywords
	d.PageCount = res.PageCount
	d.StorageKey = res.StorageKey
	d.ErrorMessage = ""
	d.StagingKey = ""
	s.documents[id] = d
	return nil
}

func (s *MemoryStore) FailProcessing(id, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.documents[id]
	if !ok || d.Status != domain.StatusProcessing {
		return nil
	}
	d.Status = domain.StatusError
	d.ErrorMessage = errMsg
	d.StagingKey = ""
	s.documents[id] = d
	return nil
}

func (s *MemoryStore) TouchDocument(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.documents[id]
	if !ok {
		return nil
	}
	d.LastOpenedAt = time.Now().UTC()
	s.documents[id] = d
	return nil
}

func (s *MemoryStore) DeleteDocument(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.documents, id)
	return nil
}

func (s *MemoryStore) CreateSession(session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
	return nil
}

func (s *MemoryStore) GetSession(id string) (domain.Session, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok, nil
}

func (s *MemoryStore) ListSessionsByUser(userID string) ([]domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]domain.Session, 0)
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			res = append(res, sess)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].UpdatedAt.After(res[j].UpdatedAt)
	})
	return res, nil
}

func (s *MemoryStore) UpdateSession(id string, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if strings.TrimSpace(title) != "" {
		sess.Title = strings.TrimSpace(title)
	}
	sess.UpdatedAt = time.Now().UTC()
	s.sessions[id] = sess
	return nil
}

func (s *MemoryStore) DeleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	delete(s.messages, id)
	return nil
}

func (s *MemoryStore) DeleteSessionsByDocument(documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		if sess.DocumentID == documentID {
			delete(s.sessions, id)
			delete(s.messages, id)
		}
	}
	return nil
}

func (s *MemoryStore) AppendMessages(sessionID string, msgs []domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[sessionID] = append(s.messages[sessionID], msgs...)
	if sess, ok := s.sessions[sessionID]; ok {
		sess.UpdatedAt = time.Now().UTC()
		s.sessions[sessionID] = sess
	}
	return nil
}

func (s *MemoryStore) ListMessages(sessionID string) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[sessionID]
	out := make([]domain.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}
