package store

import (
	"fmt"
	"testing"
	"time"

	"docchat/pkg/domain"
)

func TestMemoryStoreUserLookup(t *testing.T) {
	s := NewMemoryStore()
	u := domain.User{ID: "u1", Username: "alice", PasswordHash: "x", Role: domain.RoleUser, CreatedAt: time.Now()}
	if err := s.SaveUser(u); err != nil {
		t.Fatalf("save user: %v", err)
	}
	has, err := s.HasUsername("alice")
	if err != nil || !has {
		t.Fatalf("expected username to exist, has=%v err=%v", has, err)
	}
	got, ok, err := s.GetUserByUsername("alice")
	if err != nil || !ok {
		t.Fatalf("lookup failed: ok=%v err=%v", ok, err)
	}
	if got.ID != "u1" {
		t.Fatalf("expected u1, got %s", got.ID)
	}
	if _, ok, _ := s.GetUserByUsername("bob"); ok {
		t.Fatalf("unexpected user bob")
	}
}

func TestMemoryStoreProcessingTerminalOnce(t *testing.T) {
	s := NewMemoryStore()
	doc := domain.Document{
		ID:         "d1",
		UserID:     "u1",
		Filename:   "notes.txt",
		Status:     domain.StatusProcessing,
		StagingKey: "staging/d1/notes.txt",
		UploadedAt: time.Now(),
	}
	if err := s.SaveDocument(doc); err != nil {
		t.Fatalf("save document: %v", err)
	}
	if err := s.FailProcessing("d1", "boom"); err != nil {
		t.Fatalf("fail processing: %v", err)
	}
	// A late completion must not overwrite the terminal status.
	if err := s.CompleteProcessing("d1", Extraction{Content: "text", Summary: "sum", Keywords: "kw", PageCount: 3}); err != nil {
		t.Fatalf("complete processing: %v", err)
	}
	got, ok, _ := s.GetDocument("d1")
	if !ok {
		t.Fatalf("document missing")
	}
	if got.Status != domain.StatusError {
		t.Fatalf("expected error status, got %s", got.Status)
	}
	if got.ErrorMessage != "boom" {
		t.Fatalf("expected error message preserved, got %q", got.ErrorMessage)
	}
	if got.StagingKey != "" {
		t.Fatalf("expected staging key cleared, got %q", got.StagingKey)
	}
}

func TestMemoryStoreCompleteProcessing(t *testing.T) {
	s := NewMemoryStore()
	doc := domain.Document{ID: "d1", UserID: "u1", Filename: "a.pdf", Status: domain.StatusProcessing, UploadedAt: time.Now()}
	if err := s.SaveDocument(doc); err != nil {
		t.Fatalf("save document: %v", err)
	}
	res := Extraction{
		Content:    "hello world",
		Summary:    "hello",
		Keywords:   "greeting",
		PageCount:  12,
		StorageKey: "documents/d1/a.pdf",
	}
	if err := s.CompleteProcessing("d1", res); err != nil {
		t.Fatalf("complete: %v", err)
	}
	got, _, _ := s.GetDocument("d1")
	if got.Status != domain.StatusReady || got.Content != "hello world" || got.PageCount != 12 {
		t.Fatalf("unexpected document after completion: %+v", got)
	}
	if got.StorageKey != "documents/d1/a.pdf" {
		t.Fatalf("expected retained storage key, got %q", got.StorageKey)
	}
}

func TestMemoryStoreListDocumentsNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	base := time.Now()
	for i := 0; i < 3; i++ {
		doc := domain.Document{
			ID:         fmt.Sprintf("d%d", i),
			UserID:     "u1",
			Filename:   fmt.Sprintf("f%d.txt", i),
			Status:     domain.StatusReady,
			UploadedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.SaveDocument(doc); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	if err := s.SaveDocument(domain.Document{ID: "other", UserID: "u2", Filename: "x.txt", UploadedAt: base}); err != nil {
		t.Fatalf("save: %v", err)
	}
	docs, err := s.ListDocumentsByOwner("u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("expected 3 docs, got %d", len(docs))
	}
	if docs[0].ID != "d2" || docs[2].ID != "d0" {
		t.Fatalf("unexpected order: %s .. %s", docs[0].ID, docs[2].ID)
	}
}

func TestMemoryStoreSearchDocuments(t *testing.T) {
	s := NewMemoryStore()
	_ = s.SaveDocument(domain.Document{ID: "d1", UserID: "u1", Filename: "report.pdf", Content: "quarterly revenue numbers", UploadedAt: time.Now()})
	_ = s.SaveDocument(domain.Document{ID: "d2", UserID: "u1", Filename: "recipe.txt", Content: "flour and sugar", UploadedAt: time.Now()})
	_ = s.SaveDocument(domain.Document{ID: "d3", UserID: "u2", Filename: "revenue.txt", Content: "not yours", UploadedAt: time.Now()})

	docs, err := s.SearchDocuments("u1", "Revenue")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != "d1" {
		t.Fatalf("expected only d1, got %+v", docs)
	}
	docs, err = s.SearchDocuments("u1", "   ")
	if err != nil {
		t.Fatalf("search blank: %v", err)
	}
	if len(docs) != 0 {
		t.Fatalf("expected no results for blank query, got %d", len(docs))
	}
}

func TestMemoryStoreMessagesAppendOrder(t *testing.T) {
	s := NewMemoryStore()
	sess := domain.Session{ID: "s1", UserID: "u1", Title: "chat", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := s.CreateSession(sess); err != nil {
		t.Fatalf("create session: %v", err)
	}
	ts := time.Now()
	msgs := []domain.Message{
		{ID: "m1", SessionID: "s1", Sender: domain.SenderUser, Content: "first", Timestamp: ts},
		{ID: "m2", SessionID: "s1", Sender: domain.SenderAI, Content: "second", Timestamp: ts},
		{ID: "m3", SessionID: "s1", Sender: domain.SenderUser, Content: "third", Timestamp: ts},
	}
	if err := s.AppendMessages("s1", msgs); err != nil {
		t.Fatalf("append: %v", err)
	}
	got, err := s.ListMessages("s1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	for i, want := range []string{"m1", "m2", "m3"} {
		if got[i].ID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, got[i].ID)
		}
	}
}

func TestMemoryStoreDeleteSessionsByDocument(t *testing.T) {
	s := NewMemoryStore()
	_ = s.CreateSession(domain.Session{ID: "s1", UserID: "u1", DocumentID: "d1", UpdatedAt: time.Now()})
	_ = s.CreateSession(domain.Session{ID: "s2", UserID: "u1", DocumentID: "d2", UpdatedAt: time.Now()})
	_ = s.AppendMessages("s1", []domain.Message{{ID: "m1", SessionID: "s1", Sender: domain.SenderUser, Content: "hi"}})

	if err := s.DeleteSessionsByDocument("d1"); err != nil {
		t.Fatalf("delete by document: %v", err)
	}
	if _, ok, _ := s.GetSession("s1"); ok {
		t.Fatalf("s1 should be gone")
	}
	if msgs, _ := s.ListMessages("s1"); len(msgs) != 0 {
		t.Fatalf("s1 messages should be gone")
	}
	if _, ok, _ := s.GetSession("s2"); !ok {
		t.Fatalf("s2 should survive")
	}
}
