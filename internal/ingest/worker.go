package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"time"

	"github.com/kalambet/stackpilot/internal/metrics"
	"github.com/kalambet/stackpilot/internal/retrieval"
	"github.com/kalambet/stackpilot/internal/storage"
)

// JobType is the queue type of document indexing jobs.
const JobType = "index_document"

const (
	documentKeywords = 20
	chunkKeywords    = 10
)

// Store is the persistence the worker needs.
type Store interface {
	EnqueueJob(ctx context.Context, job storage.Job) error
	ClaimNextJob(ctx context.Context, types []string) (*storage.Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, errMsg string) error
	GetDocument(ctx context.Context, userID, id string) (storage.Document, error)
	UpdateDocument(ctx context.Context, d storage.Document) (storage.Document, error)
	SetDocumentStatus(ctx context.Context, userID, id, status string) error
	SetCollectionStatus(ctx context.Context, userID, id, status string) error
	ReplaceChunks(ctx context.Context, documentID string, chunks []storage.Chunk) error
}

// BatchEmbedder embeds many texts at once.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type indexPayload struct {
	UserID     string `json:"userId"`
	DocumentID string `json:"documentId"`
}

// Enqueue schedules indexing of an uploaded document.
func Enqueue(ctx context.Context, store Store, doc storage.Document) error {
	payload, err := json.Marshal(indexPayload{UserID: doc.UserID, DocumentID: doc.ID})
	if err != nil {
		return err
	}
	return store.EnqueueJob(ctx, storage.Job{Type: JobType, PayloadJSON: string(payload)})
}

// Worker processes index_document jobs from the SQLite job queue.
type Worker struct {
	store    Store
	files    *Files
	embedder BatchEmbedder
	metrics  *metrics.Metrics
	poll     time.Duration
	logger   *slog.Logger
}

// NewWorker creates a Worker. If pollInterval is <= 0, it defaults to 2s.
// m may be nil.
func NewWorker(store Store, files *Files, embedder BatchEmbedder, pollInterval time.Duration, m *metrics.Metrics) *Worker {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Worker{
		store:    store,
		files:    files,
		embedder: embedder,
		metrics:  m,
		poll:     pollInterval,
		logger:   slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single index_document job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(ctx, []string{JobType})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	var payload indexPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		w.fail(ctx, job, payload, fmt.Errorf("parsing payload: %w", err))
		return true, nil
	}

	if err := w.index(ctx, payload); err != nil {
		w.fail(ctx, job, payload, err)
		return true, nil
	}

	if err := w.store.CompleteJob(ctx, job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) fail(ctx context.Context, job *storage.Job, p indexPayload, err error) {
	w.logger.Warn("indexing job failed", "job_id", job.ID, "document", p.DocumentID, "error", err)
	if failErr := w.store.FailJob(ctx, job.ID, err.Error()); failErr != nil {
		w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
	}
	if p.DocumentID == "" {
		return
	}
	doc, getErr := w.store.GetDocument(ctx, p.UserID, p.DocumentID)
	if getErr != nil {
		return
	}
	if err := w.store.SetDocumentStatus(ctx, doc.UserID, doc.ID, storage.StatusUploaded); err != nil {
		w.logger.Error("resetting document status", "document", doc.ID, "error", err)
	}
	if err := w.store.SetCollectionStatus(ctx, doc.UserID, doc.CollectionID, storage.StatusUploaded); err != nil && !errors.Is(err, storage.ErrNotFound) {
		w.logger.Error("resetting collection status", "collection", doc.CollectionID, "error", err)
	}
}

func (w *Worker) index(ctx context.Context, p indexPayload) error {
	doc, err := w.store.GetDocument(ctx, p.UserID, p.DocumentID)
	if err != nil {
		return fmt.Errorf("loading document %s: %w", p.DocumentID, err)
	}

	if err := w.store.SetDocumentStatus(ctx, doc.UserID, doc.ID, storage.StatusIndexing); err != nil {
		return fmt.Errorf("marking document indexing: %w", err)
	}
	if err := w.store.SetCollectionStatus(ctx, doc.UserID, doc.CollectionID, storage.StatusIndexing); err != nil {
		return fmt.Errorf("marking collection indexing: %w", err)
	}

	data, err := w.files.Read(doc.FilePath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", doc.FilePath, err)
	}
	filename := filepath.Base(doc.FilePath)
	text, err := Extract(filename, data)
	if err != nil {
		return err
	}

	pieces := Chunk(text, doc.ChunkSize, doc.Overlap)
	if len(pieces) == 0 {
		return fmt.Errorf("no text extracted from %s", filename)
	}

	vectors, err := w.embedder.EmbedBatch(ctx, pieces)
	if err != nil {
		return fmt.Errorf("embedding chunks: %w", err)
	}

	chunks := make([]storage.Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = storage.Chunk{
			UserID:        doc.UserID,
			CollectionID:  doc.CollectionID,
			DocumentID:    doc.ID,
			ChunkIndex:    i,
			TotalChunks:   len(pieces),
			Content:       piece,
			Keywords:      retrieval.TopKeywords(piece, chunkKeywords),
			Embedding:     vectors[i],
			DocumentTitle: doc.Title,
			Filename:      filename,
			FileURL:       doc.URL,
		}
	}
	if err := w.store.ReplaceChunks(ctx, doc.ID, chunks); err != nil {
		return fmt.Errorf("storing chunks: %w", err)
	}

	// Re-read so the status written above is not lost.
	doc, err = w.store.GetDocument(ctx, doc.UserID, doc.ID)
	if err != nil {
		return err
	}
	doc.Keywords = mergeKeywords(doc.Keywords, retrieval.TopKeywords(text, documentKeywords))
	doc.Status = storage.StatusIndexed
	if _, err := w.store.UpdateDocument(ctx, doc); err != nil {
		return fmt.Errorf("marking document indexed: %w", err)
	}
	if err := w.store.SetCollectionStatus(ctx, doc.UserID, doc.CollectionID, storage.StatusIndexed); err != nil {
		return fmt.Errorf("marking collection indexed: %w", err)
	}

	w.metrics.DocumentIndexed()
	w.logger.Info("document indexed", "document", doc.ID, "collection", doc.CollectionID, "chunks", len(chunks))
	return nil
}

func mergeKeywords(existing, extracted []string) []string {
	out := slices.Clone(existing)
	for _, k := range extracted {
		if !slices.Contains(out, k) {
			out = append(out, k)
		}
	}
	return out
}
