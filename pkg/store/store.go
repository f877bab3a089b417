package store

import (
	"errors"

	"docchat/pkg/domain"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Extraction carries the results of successful background processing. The
// storage key points at the retained copy of the original file; the staged
// intake copy is gone by the time this is recorded.
type Extraction struct {
	Content    string
	Summary    string
	Keywords   string
	PageCount  int
	StorageKey string
}

// Store defines persistence operations for users, documents, sessions, and
// messages. Every ownership-scoped operation takes the owner ID explicitly;
// implementations never read caller identity from ambient state.
type Store interface {
	// users
	SaveUser(domain.User) error
	HasUsername(username string) (bool, error)
	GetUserByUsername(username string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)
	UserCount() (int, error)

	// documents
	SaveDocument(domain.Document) error
	GetDocument(id string) (domain.Document, bool, error)
	ListDocumentsByOwner(ownerID string) ([]domain.Document, error)
	SearchDocuments(ownerID, query string) ([]domain.Document, error)
	// CompleteProcessing and FailProcessing apply only while the document is
	// still in processing status; a terminal status is never rewritten.
	CompleteProcessing(id string, res Extraction) error
	FailProcessing(id, errMsg string) error
	TouchDocument(id string) error
	DeleteDocument(id string) error

	// sessions
	CreateSession(domain.Session) error
	GetSession(id string) (domain.Session, bool, error)
	ListSessionsByUser(userID string) ([]domain.Session, error)
	UpdateSession(id string, title string) error
	DeleteSession(id string) error
	DeleteSessionsByDocument(documentID string) error

	// messages (append-only)
	AppendMessages(sessionID string, msgs []domain.Message) error
	ListMessages(sessionID string) ([]domain.Message, error)
}
