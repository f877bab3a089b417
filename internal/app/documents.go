package app

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"path/filepath"
	"strings"
	"time"

	"docchat/internal/util"
	"docchat/pkg/domain"
)

// Upload validates and stages a new document, then schedules extraction.
// The returned record is still in processing status; extraction failures
// never propagate back to this caller.
func (a *App) Upload(owner domain.User, filename string, r io.Reader, size int64) (domain.Document, error) {
	filename = filepath.Base(strings.TrimSpace(filename))
	if filename == "" || filename == "." {
		return domain.Document{}, ErrFilenameRequired
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if !a.allowedExts[ext] {
		return domain.Document{}, ErrUnsupportedFileType
	}
	if size <= 0 || size > a.maxUploadBytes {
		return domain.Document{}, ErrFileTooLarge
	}

	id := util.NewID()
	stagingKey := buildStagingKey(id, filename)
	doc := domain.Document{
		ID:         id,
		UserID:     owner.ID,
		Filename:   filename,
		Size:       size,
		FileType:   strings.TrimPrefix(ext, "."),
		Status:     domain.StatusProcessing,
		StagingKey: stagingKey,
		UploadedAt: time.Now().UTC(),
	}
	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := a.objects.Put(context.Background(), stagingKey, r, size, contentType); err != nil {
		return domain.Document{}, fmt.Errorf("stage file: %w", err)
	}
	if err := a.store.SaveDocument(doc); err != nil {
		_ = a.objects.Delete(context.Background(), stagingKey)
		return domain.Document{}, fmt.Errorf("save document: %w", err)
	}
	a.processor.Dispatch(doc)
	return doc, nil
}

// ListDocuments returns the caller's documents, newest upload first.
func (a *App) ListDocuments(user domain.User) ([]domain.Document, error) {
	return a.store.ListDocumentsByOwner(user.ID)
}

// GetDocument returns one owned document and records the access.
func (a *App) GetDocument(user domain.User, id string) (domain.Document, error) {
	doc, err := a.ownedDocument(user, id)
	if err != nil {
		return domain.Document{}, err
	}
	if err := a.store.TouchDocument(doc.ID); err != nil {
		return domain.Document{}, fmt.Errorf("touch document: %w", err)
	}
	doc.LastOpenedAt = time.Now().UTC()
	return doc, nil
}

// SearchDocuments runs a text search scoped to the caller's documents.
func (a *App) SearchDocuments(user domain.User, query string) ([]domain.Document, error) {
	return a.store.SearchDocuments(user.ID, query)
}

// DeleteDocument removes the record, any sessions bound to it, and the
// stored file copies. Object cleanup is best effort.
func (a *App) DeleteDocument(user domain.User, id string) error {
	doc, err := a.ownedDocument(user, id)
	if err != nil {
		return err
	}
	if err := a.store.DeleteSessionsByDocument(doc.ID); err != nil {
		return fmt.Errorf("delete sessions: %w", err)
	}
	if err := a.store.DeleteDocument(doc.ID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if doc.StagingKey != "" {
		_ = a.objects.Delete(ctx, doc.StagingKey)
	}
	if doc.StorageKey != "" {
		_ = a.objects.Delete(ctx, doc.StorageKey)
	}
	return nil
}

// DocumentContent returns an owned document with its extracted text
// populated. Only ready documents have content to return.
func (a *App) DocumentContent(user domain.User, id string) (domain.Document, error) {
	doc, err := a.ownedDocument(user, id)
	if err != nil {
		return domain.Document{}, err
	}
	if doc.Status != domain.StatusReady {
		return domain.Document{}, ErrDocumentNotReady
	}
	return doc, nil
}

// DownloadURL returns a pre-signed URL for the retained original file.
func (a *App) DownloadURL(user domain.User, id string) (string, string, error) {
	doc, err := a.ownedDocument(user, id)
	if err != nil {
		return "", "", err
	}
	if doc.Status != domain.StatusReady || doc.StorageKey == "" {
		return "", "", ErrDocumentNotReady
	}
	url, err := a.objects.PresignGet(context.Background(), doc.StorageKey, a.presignExpiry)
	if err != nil {
		return "", "", fmt.Errorf("presign download: %w", err)
	}
	return url, doc.Filename, nil
}

func (a *App) ownedDocument(user domain.User, id string) (domain.Document, error) {
	doc, ok, err := a.store.GetDocument(id)
	if err != nil {
		return domain.Document{}, fmt.Errorf("lookup document: %w", err)
	}
	if !ok {
		return domain.Document{}, ErrNotFound
	}
	if doc.UserID != user.ID && user.Role != domain.RoleAdmin {
		return domain.Document{}, ErrForbidden
	}
	return doc, nil
}

func buildStagingKey(docID, filename string) string {
	name := sanitizeFilename(filepath.Base(filename))
	if name == "" {
		name = "document"
	}
	return path.Join("staging", docID, name)
}

func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(name))
	lastUnderscore := false
	for _, r := range name {
		if r <= 0x7f {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '-' || r == '_' {
				b.WriteRune(r)
				lastUnderscore = false
				continue
			}
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.Trim(b.String(), "_")
}
