package processor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/semaphore"

	"docchat/pkg/domain"
	"docchat/pkg/store"
	"docchat/pkg/storage"
)

const (
	defaultConcurrency = 4
	defaultTaskTimeout = 2 * time.Minute
	summaryMaxLen      = 300
	keywordMax         = 8
)

// Config holds processor wiring.
type Config struct {
	Store       store.Store
	Objects     storage.ObjectStore
	Concurrency int64
	TaskTimeout time.Duration
	Logger      *slog.Logger
}

// Processor runs document extraction in the background. One task per
// document; the task is the sole writer of the document's status.
type Processor struct {
	store   store.Store
	objects storage.ObjectStore
	sem     *semaphore.Weighted
	timeout time.Duration
	logger  *slog.Logger
}

// Task is a handle for one dispatched extraction.
type Task struct {
	done chan struct{}
}

// Done closes when the task reaches a terminal outcome.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// New constructs a processor.
func New(cfg Config) (*Processor, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("processor requires a store")
	}
	if cfg.Objects == nil {
		return nil, fmt.Errorf("processor requires object storage")
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	timeout := cfg.TaskTimeout
	if timeout <= 0 {
		timeout = defaultTaskTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		store:   cfg.Store,
		objects: cfg.Objects,
		sem:     semaphore.NewWeighted(concurrency),
		timeout: timeout,
		logger:  logger,
	}, nil
}

// Dispatch schedules extraction for a freshly uploaded document and returns
// immediately. Callers that need to await the outcome keep the Task handle.
func (p *Processor) Dispatch(doc domain.Document) *Task {
	task := &Task{done: make(chan struct{})}
	go func() {
		defer close(task.done)
		p.run(doc)
	}()
	return task
}

func (p *Processor) run(doc domain.Document) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		p.fail(doc, fmt.Errorf("processing queue wait: %w", err))
		return
	}
	defer p.sem.Release(1)

	// The staged object is transient either way.
	defer p.cleanupStaged(doc)

	path, err := p.downloadStaged(ctx, doc)
	if err != nil {
		p.fail(doc, err)
		return
	}
	defer os.Remove(path)

	result, err := extract(doc.Filename, path)
	if err != nil {
		p.fail(doc, err)
		return
	}
	if ctx.Err() != nil {
		p.fail(doc, fmt.Errorf("processing timed out"))
		return
	}

	storageKey, err := p.retainOriginal(ctx, doc, path)
	if err != nil {
		p.fail(doc, err)
		return
	}

	res := store.Extraction{
		Content:    result.Text,
		Summary:    summarize(result.Text, summaryMaxLen),
		Keywords:   extractKeywords(result.Text, keywordMax),
		PageCount:  result.Pages,
		StorageKey: storageKey,
	}
	if err := p.store.CompleteProcessing(doc.ID, res); err != nil {
		p.fail(doc, fmt.Errorf("record extraction: %w", err))
		return
	}
	p.logger.Info("document_processed",
		"document_id", doc.ID,
		"filename", doc.Filename,
		"pages", result.Pages,
		"chars", len(result.Text),
	)
}

func (p *Processor) downloadStaged(ctx context.Context, doc domain.Document) (string, error) {
	obj, err := p.objects.Get(ctx, doc.StagingKey)
	if err != nil {
		return "", fmt.Errorf("fetch staged file: %w", err)
	}
	defer obj.Close()

	tmp, err := os.CreateTemp("", "docchat-*"+filepath.Ext(doc.Filename))
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(tmp, obj); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return tmp.Name(), nil
}

// retainOriginal copies the uploaded file to its long-term key so downloads
// keep working after the staged intake copy is removed.
func (p *Processor) retainOriginal(ctx context.Context, doc domain.Document, path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open extracted file: %w", err)
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("stat extracted file: %w", err)
	}
	key := retainedKey(doc)
	if err := p.objects.Put(ctx, key, file, info.Size(), "application/octet-stream"); err != nil {
		return "", fmt.Errorf("retain original: %w", err)
	}
	return key, nil
}

func retainedKey(doc domain.Document) string {
	name := filepath.Base(doc.StagingKey)
	if name == "." || name == "/" || name == "" {
		name = doc.ID
	}
	return "documents/" + doc.ID + "/" + name
}

func (p *Processor) fail(doc domain.Document, cause error) {
	p.logger.Warn("document_processing_failed",
		"document_id", doc.ID,
		"filename", doc.Filename,
		"error", cause.Error(),
	)
	if err := p.store.FailProcessing(doc.ID, cause.Error()); err != nil {
		p.logger.Error("record_processing_failure", "document_id", doc.ID, "error", err.Error())
	}
}

func (p *Processor) cleanupStaged(doc domain.Document) {
	if doc.StagingKey == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.objects.Delete(ctx, doc.StagingKey); err != nil {
		p.logger.Warn("staged_object_cleanup", "document_id", doc.ID, "error", err.Error())
	}
}
