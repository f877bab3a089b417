package domain

import "time"

type DocumentStatus string

const (
	StatusProcessing DocumentStatus = "processing"
	StatusReady      DocumentStatus = "ready"
	StatusError      DocumentStatus = "error"
)

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

// Message senders.
const (
	SenderUser = "user"
	SenderAI   = "ai"
)

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Email        string    `json:"email,omitempty"`
	DisplayName  string    `json:"displayName,omitempty"`
	Role         UserRole  `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Document is the metadata record for one uploaded file. Content holds the
// extracted plain text once the processor finishes; it stays out of JSON
// responses and is fetched explicitly where needed.
type Document struct {
	ID           string         `json:"id"`
	UserID       string         `json:"userId"`
	Filename     string         `json:"filename"`
	Size         int64          `json:"size"`
	FileType     string         `json:"fileType"`
	Status       DocumentStatus `json:"status"`
	PageCount    int            `json:"pageCount,omitempty"`
	Content      string         `json:"-"`
	Summary      string         `json:"summary,omitempty"`
	Keywords     string         `json:"keywords,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	StagingKey   string         `json:"-"`
	StorageKey   string         `json:"-"`
	UploadedAt   time.Time      `json:"uploadedAt"`
	LastOpenedAt time.Time      `json:"lastOpenedAt"`
}

// Session is one owned conversation thread, optionally scoped to a document.
type Session struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	DocumentID string    `json:"documentId,omitempty"`
	Title      string    `json:"title"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type Message struct {
	ID        string     `json:"id"`
	SessionID string     `json:"sessionId"`
	Sender    string     `json:"sender"`
	Content   string     `json:"content"`
	Citations []Citation `json:"citations,omitempty"`
	Error     bool       `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// Citation is a read-only annotation attached to an AI message by the
// external generation side; it is stored and displayed, never interpreted.
type Citation struct {
	Text string `json:"text"`
	Page int    `json:"page,omitempty"`
}
