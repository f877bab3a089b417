package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"docchat/internal/processor"
	"docchat/internal/util"
	"docchat/pkg/ai"
	"docchat/pkg/auth"
	"docchat/pkg/domain"
	"docchat/pkg/storage"
	"docchat/pkg/store"
	"docchat/pkg/token"
)

const (
	defaultMaxUploadBytes = 10 << 20
	defaultAnswerTimeout  = 90 * time.Second
	defaultPresignExpiry  = 15 * time.Minute
)

var defaultAllowedExtensions = []string{".pdf", ".txt", ".docx", ".doc"}

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL       string
	Store             store.Store
	Objects           storage.ObjectStore
	Processor         *processor.Processor
	Generator         ai.Generator
	Tokens            *token.Manager
	MaxUploadBytes    int64
	AllowedExtensions []string
	AnswerTimeout     time.Duration
	PresignExpiry     time.Duration
}

// App is the core application service wiring storage, extraction, and the
// upstream generator together.
type App struct {
	store          store.Store
	objects        storage.ObjectStore
	processor      *processor.Processor
	generator      ai.Generator
	tokens         *token.Manager
	maxUploadBytes int64
	allowedExts    map[string]bool
	answerTimeout  time.Duration
	presignExpiry  time.Duration
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	if cfg.Objects == nil {
		return nil, fmt.Errorf("object storage required")
	}
	if cfg.Processor == nil {
		return nil, fmt.Errorf("processor required")
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("generator required")
	}
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("token manager required")
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}
	exts := cfg.AllowedExtensions
	if len(exts) == 0 {
		exts = defaultAllowedExtensions
	}
	allowed := make(map[string]bool, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		allowed[ext] = true
	}
	answerTimeout := cfg.AnswerTimeout
	if answerTimeout <= 0 {
		answerTimeout = defaultAnswerTimeout
	}
	presignExpiry := cfg.PresignExpiry
	if presignExpiry <= 0 {
		presignExpiry = defaultPresignExpiry
	}
	return &App{
		store:          dataStore,
		objects:        cfg.Objects,
		processor:      cfg.Processor,
		generator:      cfg.Generator,
		tokens:         cfg.Tokens,
		maxUploadBytes: maxUpload,
		allowedExts:    allowed,
		answerTimeout:  answerTimeout,
		presignExpiry:  presignExpiry,
	}, nil
}

// MaxUploadBytes returns the upload ceiling for handler-level body caps.
func (a *App) MaxUploadBytes() int64 {
	return a.maxUploadBytes
}

// Register creates a user and issues an access token.
// The first registered user becomes admin.
func (a *App) Register(username, password, email, displayName string) (domain.User, string, error) {
	username = strings.TrimSpace(strings.ToLower(username))
	if username == "" || password == "" {
		return domain.User{}, "", ErrUsernameAndPasswordRequired
	}
	if err := auth.ValidatePassword(password); err != nil {
		return domain.User{}, "", err
	}
	exists, err := a.store.HasUsername(username)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("check username: %w", err)
	}
	if exists {
		return domain.User{}, "", ErrUsernameTaken
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("hash password: %w", err)
	}
	role := domain.RoleUser
	count, err := a.store.UserCount()
	if err != nil {
		return domain.User{}, "", fmt.Errorf("count users: %w", err)
	}
	if count == 0 {
		role = domain.RoleAdmin
	}
	user := domain.User{
		ID:           util.NewID(),
		Username:     username,
		PasswordHash: hash,
		Email:        strings.TrimSpace(email),
		DisplayName:  strings.TrimSpace(displayName),
		Role:         role,
		CreatedAt:    time.Now().UTC(),
	}
	if err := a.store.SaveUser(user); err != nil {
		return domain.User{}, "", fmt.Errorf("save user: %w", err)
	}
	signed, err := a.issueToken(user)
	if err != nil {
		return domain.User{}, "", err
	}
	return user, signed, nil
}

// Login checks credentials and issues an access token. Unknown usernames and
// wrong passwords both report ErrInvalidCredentials.
func (a *App) Login(username, password string) (domain.User, string, error) {
	username = strings.TrimSpace(strings.ToLower(username))
	if username == "" || password == "" {
		return domain.User{}, "", ErrUsernameAndPasswordRequired
	}
	user, ok, err := a.store.GetUserByUsername(username)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("lookup user: %w", err)
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	signed, err := a.issueToken(user)
	if err != nil {
		return domain.User{}, "", err
	}
	return user, signed, nil
}

// UserFromToken resolves the bearer token to a stored user.
func (a *App) UserFromToken(raw string) (domain.User, error) {
	id, err := a.tokens.Verify(raw)
	if err != nil {
		if errors.Is(err, token.ErrTokenExpired) {
			return domain.User{}, ErrTokenExpired
		}
		return domain.User{}, ErrInvalidToken
	}
	user, ok, err := a.store.GetUserByID(id.UserID)
	if err != nil {
		return domain.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if !ok {
		return domain.User{}, ErrInvalidToken
	}
	return user, nil
}

// Logout acknowledges a logout. Tokens are stateless; expiry does the rest.
func (a *App) Logout(user domain.User) {
}

func (a *App) issueToken(user domain.User) (string, error) {
	signed, err := a.tokens.Issue(token.Identity{
		UserID:      user.ID,
		Username:    user.Username,
		Email:       user.Email,
		DisplayName: user.DisplayName,
	})
	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}
	return signed, nil
}
