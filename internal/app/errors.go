package app

import "errors"

// Sentinel errors surfaced to the HTTP layer for status/code mapping.
var (
	ErrUsernameAndPasswordRequired = errors.New("username and password are required")
	ErrUsernameTaken               = errors.New("username already registered")
	ErrInvalidCredentials          = errors.New("invalid username or password")
	ErrInvalidToken                = errors.New("invalid token")
	ErrTokenExpired                = errors.New("token expired")
	ErrForbidden                   = errors.New("access denied")
	ErrNotFound                    = errors.New("resource not found")

	ErrFilenameRequired    = errors.New("filename required")
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrFileTooLarge        = errors.New("file exceeds the size limit")
	ErrDocumentNotReady    = errors.New("document is not ready")

	ErrPromptRequired = errors.New("message content required")
	ErrTitleRequired  = errors.New("session title required")
	ErrUpstream       = errors.New("answer generation failed")
)
