package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"docchat/pkg/domain"
)

const migrateLockID int64 = 48121620

const documentSearchVector = "to_tsvector('english', coalesce(filename,'') || ' ' || coalesce(content,'') || ' ' || coalesce(summary,'') || ' ' || coalesce(keywords,''))"

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations under an advisory lock
// so concurrent replicas do not race on schema changes.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &DocumentModel{}, &SessionModel{}, &MessageModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS idx_document_models_search ON document_models USING GIN (%s)",
			documentSearchVector,
		)).Error; err != nil {
			return fmt.Errorf("create search index: %w", err)
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
				DELETE FROM message_models m
				WHERE NOT EXISTS (SELECT 1 FROM session_models s WHERE s.id = m.session_id);
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'message_models'
					AND constraint_name = 'message_models_session_id_fkey'
				) THEN
					ALTER TABLE message_models
					ADD CONSTRAINT message_models_session_id_fkey
					FOREIGN KEY (session_id) REFERENCES session_models(id) ON DELETE CASCADE;
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure session foreign keys: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveUser registers a user.
func (s *GormStore) SaveUser(u domain.User) error {
	model := userToModel(u)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "display_name", "password_hash"}),
	}).Create(&model).Error
}

// HasUsername checks if username exists.
func (s *GormStore) HasUsername(username string) (bool, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUserByUsername looks up a user by username.
func (s *GormStore) GetUserByUsername(username string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("username = ?", username).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// UserCount returns number of users.
func (s *GormStore) UserCount() (int, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// SaveDocument stores a new document record.
func (s *GormStore) SaveDocument(d domain.Document) error {
	model := documentToModel(d)
	return s.db.Create(&model).Error
}

// GetDocument retrieves a document.
func (s *GormStore) GetDocument(id string) (domain.Document, bool, error) {
	var model DocumentModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Document{}, false, nil
		}
		return domain.Document{}, false, err
	}
	return documentFromModel(model), true, nil
}

// ListDocumentsByOwner returns the owner's documents, newest upload first.
func (s *GormStore) ListDocumentsByOwner(ownerID string) ([]domain.Document, error) {
	var models []DocumentModel
	if err := s.db.Where("user_id = ?", ownerID).
		Order("uploaded_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Document, 0, len(models))
	for _, m := range models {
		res = append(res, documentFromModel(m))
	}
	return res, nil
}

// SearchDocuments runs a full-text search over the owner's documents.
func (s *GormStore) SearchDocuments(ownerID, query string) ([]domain.Document, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []domain.Document{}, nil
	}
	var models []DocumentModel
	if err := s.db.Where("user_id = ?", ownerID).
		Where(documentSearchVector+" @@ plainto_tsquery('english', ?)", query).
		Order("uploaded_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Document, 0, len(models))
	for _, m := range models {
		res = append(res, documentFromModel(m))
	}
	return res, nil
}

// CompleteProcessing marks a processing document ready with its extraction
// results. The WHERE clause keeps terminal statuses terminal.
func (s *GormStore) CompleteProcessing(id string, res Extraction) error {
	return s.db.Model(&DocumentModel{}).
		Where("id = ? AND status = ?", id, string(domain.StatusProcessing)).
		Updates(map[string]any{
			"status":        string(domain.StatusReady),
			"content":       res.Content,
			"summary":       res.Summary,
			"keywords":      res.Keywords,
			"page_count":    res.PageCount,
			"storage_key":   res.StorageKey,
			"error_message": "",
			"staging_key":   "",
		}).Error
}

// FailProcessing marks a processing document failed.
func (s *GormStore) FailProcessing(id, errMsg string) error {
	return s.db.Model(&DocumentModel{}).
		Where("id = ? AND status = ?", id, string(domain.StatusProcessing)).
		Updates(map[string]any{
			"status":        string(domain.StatusError),
			"error_message": errMsg,
			"staging_key":   "",
		}).Error
}

// TouchDocument updates the last-opened timestamp.
func (s *GormStore) TouchDocument(id string) error {
	return s.db.Model(&DocumentModel{}).
		Where("id = ?", id).
		Update("last_opened_at", time.Now().UTC()).Error
}

// DeleteDocument removes the record; associated sessions are removed by the
// caller via DeleteSessionsByDocument, messages cascade with their session.
func (s *GormStore) DeleteDocument(id string) error {
	return s.db.Delete(&DocumentModel{}, "id = ?", id).Error
}

// CreateSession creates a new session record.
func (s *GormStore) CreateSession(session domain.Session) error {
	model := sessionToModel(session)
	return s.db.Create(&model).Error
}

// GetSession returns one session by ID.
func (s *GormStore) GetSession(id string) (domain.Session, bool, error) {
	var model SessionModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Session{}, false, nil
		}
		return domain.Session{}, false, err
	}
	return sessionFromModel(model), true, nil
}

// ListSessionsByUser returns the user's sessions, most recently updated first.
func (s *GormStore) ListSessionsByUser(userID string) ([]domain.Session, error) {
	var models []SessionModel
	if err := s.db.Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	items := make([]domain.Session, 0, len(models))
	for _, model := range models {
		items = append(items, sessionFromModel(model))
	}
	return items, nil
}

// UpdateSession refreshes title and the updated-at timestamp.
func (s *GormStore) UpdateSession(id string, title string) error {
	updates := map[string]any{
		"updated_at": time.Now().UTC(),
	}
	if strings.TrimSpace(title) != "" {
		updates["title"] = strings.TrimSpace(title)
	}
	return s.db.Model(&SessionModel{}).Where("id = ?", id).Updates(updates).Error
}

// DeleteSession removes a session and its messages.
func (s *GormStore) DeleteSession(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&MessageModel{}, "session_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&SessionModel{}, "id = ?", id).Error
	})
}

// DeleteSessionsByDocument removes all sessions bound to a document.
func (s *GormStore) DeleteSessionsByDocument(documentID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&SessionModel{}).
			Where("document_id = ?", documentID).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Delete(&MessageModel{}, "session_id IN ?", ids).Error; err != nil {
			return err
		}
		return tx.Delete(&SessionModel{}, "id IN ?", ids).Error
	})
}

// AppendMessages records messages in the given order and bumps the session's
// updated-at timestamp.
func (s *GormStore) AppendMessages(sessionID string, msgs []domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		for _, msg := range msgs {
			model := messageToModel(msg)
			model.SessionID = sessionID
			if err := tx.Create(&model).Error; err != nil {
				return err
			}
		}
		return tx.Model(&SessionModel{}).
			Where("id = ?", sessionID).
			Update("updated_at", time.Now().UTC()).Error
	})
}

// ListMessages returns the full message sequence in append order.
func (s *GormStore) ListMessages(sessionID string) ([]domain.Message, error) {
	var models []MessageModel
	if err := s.db.Where("session_id = ?", sessionID).
		Order("seq ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(models))
	for _, model := range models {
		msgs = append(msgs, messageFromModel(model))
	}
	return msgs, nil
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Username:     u.Username,
		PasswordHash: u.PasswordHash,
		Email:        u.Email,
		DisplayName:  u.DisplayName,
		Role:         string(u.Role),
		CreatedAt:    u.CreatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	role := domain.UserRole(m.Role)
	if role == "" {
		role = domain.RoleUser
	}
	return domain.User{
		ID:           m.ID,
		Username:     m.Username,
		PasswordHash: m.PasswordHash,
		Email:        m.Email,
		DisplayName:  m.DisplayName,
		Role:         role,
		CreatedAt:    m.CreatedAt,
	}
}

func documentToModel(d domain.Document) DocumentModel {
	return DocumentModel{
		ID:           d.ID,
		UserID:       d.UserID,
		Filename:     d.Filename,
		Size:         d.Size,
		FileType:     d.FileType,
		Status:       string(d.Status),
		PageCount:    d.PageCount,
		Content:      d.Content,
		Summary:      d.Summary,
		Keywords:     d.Keywords,
		ErrorMessage: d.ErrorMessage,
		StagingKey:   d.StagingKey,
		StorageKey:   d.StorageKey,
		UploadedAt:   d.UploadedAt,
		LastOpenedAt: d.LastOpenedAt,
	}
}

func documentFromModel(m DocumentModel) domain.Document {
	return domain.Document{
		ID:           m.ID,
		UserID:       m.UserID,
		Filename:     m.Filename,
		Size:         m.Size,
		FileType:     m.FileType,
		Status:       domain.DocumentStatus(m.Status),
		PageCount:    m.PageCount,
		Content:      m.Content,
		Summary:      m.Summary,
		Keywords:     m.Keywords,
		ErrorMessage: m.ErrorMessage,
		StagingKey:   m.StagingKey,
		StorageKey:   m.StorageKey,
		UploadedAt:   m.UploadedAt,
		LastOpenedAt: m.LastOpenedAt,
	}
}

func sessionToModel(s domain.Session) SessionModel {
	var documentID *string
	if strings.TrimSpace(s.DocumentID) != "" {
		value := strings.TrimSpace(s.DocumentID)
		documentID = &value
	}
	return SessionModel{
		ID:         s.ID,
		UserID:     s.UserID,
		DocumentID: documentID,
		Title:      s.Title,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	}
}

func sessionFromModel(m SessionModel) domain.Session {
	documentID := ""
	if m.DocumentID != nil {
		documentID = strings.TrimSpace(*m.DocumentID)
	}
	return domain.Session{
		ID:         m.ID,
		UserID:     m.UserID,
		DocumentID: documentID,
		Title:      m.Title,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func messageToModel(msg domain.Message) MessageModel {
	rawCitations, _ := json.Marshal(msg.Citations)
	return MessageModel{
		ID:        msg.ID,
		SessionID: msg.SessionID,
		Sender:    msg.Sender,
		Content:   msg.Content,
		Citations: rawCitations,
		IsError:   msg.Error,
		CreatedAt: msg.Timestamp,
	}
}

func messageFromModel(m MessageModel) domain.Message {
	var citations []domain.Citation
	if len(m.Citations) > 0 {
		_ = json.Unmarshal(m.Citations, &citations)
	}
	return domain.Message{
		ID:        m.ID,
		SessionID: m.SessionID,
		Sender:    m.Sender,
		Content:   m.Content,
		Citations: citations,
		Error:     m.IsError,
		Timestamp: m.CreatedAt,
	}
}
