package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same directory and verifies
// no migration is re-applied.
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(versions) < 2 {
		t.Fatalf("expected at least two applied migrations, got %v", versions)
	}
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	for _, idx := range []string{"idx_documents_store_list", "idx_documents_store_id", "idx_jobs_claim", "idx_chunks_collection"} {
		var count int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count); err != nil {
			t.Fatalf("querying index %s: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %s not found", idx)
		}
	}
}

func TestProductCRUD(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p, err := s.CreateProduct(ctx, Product{UserID: "u1", Name: "Launchpad", Phases: []string{"Build"}})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	if p.ID == "" {
		t.Fatal("CreateProduct did not assign an id")
	}
	if p.CreatedAt.IsZero() || !p.CreatedAt.Equal(p.UpdatedAt) {
		t.Errorf("timestamps not initialized: created=%v updated=%v", p.CreatedAt, p.UpdatedAt)
	}

	got, err := s.GetProduct(ctx, "u1", p.ID)
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if got.Name != "Launchpad" || len(got.Phases) != 1 || got.Phases[0] != "Build" {
		t.Errorf("GetProduct = %+v", got)
	}

	got.Name = "Launchpad 2"
	updated, err := s.UpdateProduct(ctx, got)
	if err != nil {
		t.Fatalf("UpdateProduct: %v", err)
	}
	if !updated.CreatedAt.Equal(p.CreatedAt) {
		t.Errorf("UpdateProduct changed CreatedAt: %v -> %v", p.CreatedAt, updated.CreatedAt)
	}

	if err := s.DeleteProduct(ctx, "u1", p.ID); err != nil {
		t.Fatalf("DeleteProduct: %v", err)
	}
	if _, err := s.GetProduct(ctx, "u1", p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetProduct after delete err = %v, want ErrNotFound", err)
	}
}

func TestDocumentsAreUserScoped(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	n, err := s.CreateNote(ctx, Note{UserID: "alice", ProductID: "p1", NoteBody: "secret"})
	if err != nil {
		t.Fatalf("CreateNote: %v", err)
	}

	if _, err := s.GetNote(ctx, "bob", n.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetNote as other user err = %v, want ErrNotFound", err)
	}
	if err := s.DeleteNote(ctx, "bob", n.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteNote as other user err = %v, want ErrNotFound", err)
	}
	if _, err := s.UpdateNote(ctx, Note{UserID: "bob", ID: n.ID, NoteBody: "x"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateNote as other user err = %v, want ErrNotFound", err)
	}

	notes, err := s.ListNotes(ctx, "bob", "")
	if err != nil {
		t.Fatalf("ListNotes: %v", err)
	}
	if len(notes) != 0 {
		t.Errorf("bob sees %d notes, want 0", len(notes))
	}
}

func TestListFiltersByProductAndOrdersByUpdated(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	first, _ := s.CreateQuestion(ctx, Question{UserID: "u", ProductID: "p1", Question: "first?"})
	_, _ = s.CreateQuestion(ctx, Question{UserID: "u", ProductID: "p2", Question: "other?"})
	second, _ := s.CreateQuestion(ctx, Question{UserID: "u", ProductID: "p1", Question: "second?"})

	qs, err := s.ListQuestions(ctx, "u", "p1")
	if err != nil {
		t.Fatalf("ListQuestions: %v", err)
	}
	if len(qs) != 2 {
		t.Fatalf("ListQuestions returned %d, want 2", len(qs))
	}
	if qs[0].ID != second.ID || qs[1].ID != first.ID {
		t.Errorf("order = [%s %s], want [%s %s]", qs[0].ID, qs[1].ID, second.ID, first.ID)
	}

	answer := "yes"
	first.Answer = &answer
	if _, err := s.UpdateQuestion(ctx, first); err != nil {
		t.Fatalf("UpdateQuestion: %v", err)
	}
	qs, _ = s.ListQuestions(ctx, "u", "")
	if len(qs) != 3 || qs[0].ID != first.ID {
		t.Errorf("updated question should be listed first, got %d items, first=%s", len(qs), qs[0].ID)
	}
	if qs[0].Answer == nil || *qs[0].Answer != "yes" {
		t.Errorf("answer not persisted: %v", qs[0].Answer)
	}
}

func TestGetPublicAgent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	cfg := DefaultAgentConfiguration()
	enabled, err := s.CreateAgent(ctx, Agent{UserID: "owner", ProductID: "p", Name: "Helper", Description: "d", Configuration: cfg})
	if err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	cfg.IsEnabled = false
	disabled, _ := s.CreateAgent(ctx, Agent{UserID: "owner", ProductID: "p", Name: "Off", Description: "d", Configuration: cfg})

	got, err := s.GetPublicAgent(ctx, enabled.ID)
	if err != nil {
		t.Fatalf("GetPublicAgent: %v", err)
	}
	if got.UserID != "owner" || got.Status != AgentEnabled {
		t.Errorf("GetPublicAgent = %+v", got)
	}
	if _, err := s.GetPublicAgent(ctx, disabled.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("disabled agent err = %v, want ErrNotFound", err)
	}
	if _, err := s.GetPublicAgent(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing agent err = %v, want ErrNotFound", err)
	}
}

func TestFindAgentByOAuthClient(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	cfg := DefaultAgentConfiguration()
	cfg.A2AOAuth = &A2AOAuth{ClientID: "client-1", ClientSecret: "s3cret"}
	a, _ := s.CreateAgent(ctx, Agent{UserID: "owner", ProductID: "p", Name: "A", Description: "d", Configuration: cfg})

	got, err := s.FindAgentByOAuthClient(ctx, "client-1", "s3cret")
	if err != nil {
		t.Fatalf("FindAgentByOAuthClient: %v", err)
	}
	if got.ID != a.ID {
		t.Errorf("agent id = %s, want %s", got.ID, a.ID)
	}
	if _, err := s.FindAgentByOAuthClient(ctx, "client-1", "wrong"); !errors.Is(err, ErrNotFound) {
		t.Errorf("wrong secret err = %v, want ErrNotFound", err)
	}
	if _, err := s.FindAgentByOAuthClient(ctx, "", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("empty client err = %v, want ErrNotFound", err)
	}
}

func TestToolConfigUpsertKeepsTestResult(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c, err := s.UpsertToolConfig(ctx, ToolConfig{UserID: "u", ToolID: "weather", IsEnabled: true, APIKey: "k1"})
	if err != nil {
		t.Fatalf("UpsertToolConfig: %v", err)
	}
	if c.TestStatus != TestNever {
		t.Errorf("TestStatus = %q, want %q", c.TestStatus, TestNever)
	}

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := s.UpdateToolTestResult(ctx, "u", "weather", TestSuccess, "ok", at); err != nil {
		t.Fatalf("UpdateToolTestResult: %v", err)
	}

	c, err = s.UpsertToolConfig(ctx, ToolConfig{UserID: "u", ToolID: "weather", IsEnabled: false, APIKey: "k2"})
	if err != nil {
		t.Fatalf("second UpsertToolConfig: %v", err)
	}
	if c.TestStatus != TestSuccess || c.LastTested == nil || !c.LastTested.Equal(at) {
		t.Errorf("test result lost on upsert: %+v", c)
	}

	all, err := s.ListToolConfigs(ctx, "u")
	if err != nil {
		t.Fatalf("ListToolConfigs: %v", err)
	}
	if len(all) != 1 || all[0].APIKey != "k2" || all[0].IsEnabled {
		t.Errorf("ListToolConfigs = %+v", all)
	}
}

func TestCollectionDocumentsAndChunks(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	col, err := s.CreateCollection(ctx, Collection{UserID: "u", ProductID: "p", Title: "Docs"})
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	doc, err := s.CreateDocument(ctx, Document{UserID: "u", CollectionID: col.ID, Title: "Guide"})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if doc.ChunkSize != 1000 || doc.Overlap != 200 || doc.Status != StatusUploaded {
		t.Errorf("document defaults = size %d overlap %d status %q", doc.ChunkSize, doc.Overlap, doc.Status)
	}

	chunks := []Chunk{
		{UserID: "u", CollectionID: col.ID, ChunkIndex: 0, TotalChunks: 2, Content: "alpha", Keywords: []string{"alpha"}, Embedding: []float32{1, 0}},
		{UserID: "u", CollectionID: col.ID, ChunkIndex: 1, TotalChunks: 2, Content: "beta", Embedding: []float32{0, 1}},
	}
	if err := s.ReplaceChunks(ctx, doc.ID, chunks); err != nil {
		t.Fatalf("ReplaceChunks: %v", err)
	}
	// Replacing again must not duplicate rows.
	if err := s.ReplaceChunks(ctx, doc.ID, chunks); err != nil {
		t.Fatalf("second ReplaceChunks: %v", err)
	}

	got, err := s.CollectionChunks(ctx, "u", col.ID)
	if err != nil {
		t.Fatalf("CollectionChunks: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("CollectionChunks returned %d, want 2", len(got))
	}
	if got[0].Content != "alpha" || got[0].Embedding[0] != 1 || got[0].Keywords[0] != "alpha" {
		t.Errorf("chunk 0 = %+v", got[0])
	}
	if got[1].Keywords == nil || len(got[1].Keywords) != 0 {
		t.Errorf("chunk 1 keywords = %v, want empty slice", got[1].Keywords)
	}

	docs, _ := s.ListDocuments(ctx, "u", col.ID)
	if len(docs) != 1 {
		t.Errorf("ListDocuments returned %d, want 1", len(docs))
	}

	if err := s.DeleteCollection(ctx, "u", col.ID); err != nil {
		t.Fatalf("DeleteCollection: %v", err)
	}
	if n, _ := s.CountChunks(ctx, doc.ID); n != 0 {
		t.Errorf("chunks left after collection delete: %d", n)
	}
	if _, err := s.GetDocument(ctx, "u", doc.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("document left after collection delete: %v", err)
	}
}

func TestStatusHelpers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	col, _ := s.CreateCollection(ctx, Collection{UserID: "u", Title: "c"})
	doc, _ := s.CreateDocument(ctx, Document{UserID: "u", CollectionID: col.ID, Title: "d"})

	if err := s.SetCollectionStatus(ctx, "u", col.ID, StatusIndexing); err != nil {
		t.Fatalf("SetCollectionStatus: %v", err)
	}
	if err := s.SetDocumentStatus(ctx, "u", doc.ID, StatusIndexed); err != nil {
		t.Fatalf("SetDocumentStatus: %v", err)
	}
	c, _ := s.GetCollection(ctx, "u", col.ID)
	d, _ := s.GetDocument(ctx, "u", doc.ID)
	if c.Status != StatusIndexing || d.Status != StatusIndexed {
		t.Errorf("statuses = %q/%q", c.Status, d.Status)
	}
}

func TestEndpointPublicLookup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	e, err := s.CreateEndpoint(ctx, CollectionEndpoint{UserID: "u", CollectionID: "c1", Name: "search", IsEnabled: true, AuthType: "none"})
	if err != nil {
		t.Fatalf("CreateEndpoint: %v", err)
	}
	got, err := s.GetEndpointPublic(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetEndpointPublic: %v", err)
	}
	if got.CollectionID != "c1" || got.UserID != "u" {
		t.Errorf("GetEndpointPublic = %+v", got)
	}

	got.CollectionID = "moved"
	updated, err := s.UpdateEndpoint(ctx, got)
	if err != nil {
		t.Fatalf("UpdateEndpoint: %v", err)
	}
	if updated.CollectionID != "c1" {
		t.Errorf("UpdateEndpoint moved endpoint to %q", updated.CollectionID)
	}
}

// --- Jobs ---

func TestEnqueueAndClaimJob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.EnqueueJob(ctx, Job{ID: "j1", Type: "index_document", PayloadJSON: `{"documentId":"d"}`}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	j, err := s.ClaimNextJob(ctx, []string{"index_document"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if j == nil || j.ID != "j1" || j.Status != "running" || j.MaxAttempts != 3 {
		t.Fatalf("ClaimNextJob = %+v", j)
	}

	again, err := s.ClaimNextJob(ctx, []string{"index_document"})
	if err != nil {
		t.Fatalf("second ClaimNextJob: %v", err)
	}
	if again != nil {
		t.Errorf("running job claimed twice: %+v", again)
	}
}

func TestClaimNextJob_TypeFilterAndRunAfter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_ = s.EnqueueJob(ctx, Job{ID: "other", Type: "other"})
	_ = s.EnqueueJob(ctx, Job{ID: "later", Type: "index_document", RunAfter: time.Now().Add(time.Hour)})

	j, err := s.ClaimNextJob(ctx, []string{"index_document"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if j != nil {
		t.Errorf("claimed %s, want nothing", j.ID)
	}
	if j, _ := s.ClaimNextJob(ctx, nil); j != nil {
		t.Errorf("claim with no types returned %s", j.ID)
	}
}

func TestFailJob_BackoffThenFailed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_ = s.EnqueueJob(ctx, Job{ID: "j", Type: "index_document", MaxAttempts: 2})
	if _, err := s.ClaimNextJob(ctx, []string{"index_document"}); err != nil {
		t.Fatal(err)
	}

	before := time.Now().UTC()
	if err := s.FailJob(ctx, "j", "boom"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	j, err := s.GetJob(ctx, "j")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.Status != "pending" || j.Attempts != 1 || j.LastError != "boom" {
		t.Errorf("after first failure: %+v", j)
	}
	if j.RunAfter.Before(before.Add(time.Second)) {
		t.Errorf("RunAfter = %v, want at least 2s backoff from %v", j.RunAfter, before)
	}

	if err := s.FailJob(ctx, "j", "boom again"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	j, _ = s.GetJob(ctx, "j")
	if j.Status != "failed" || j.Attempts != 2 {
		t.Errorf("after max attempts: %+v", j)
	}

	if err := s.FailJob(ctx, "missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FailJob(missing) err = %v, want ErrNotFound", err)
	}
}

func TestCompleteJob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_ = s.EnqueueJob(ctx, Job{ID: "j", Type: "t"})
	if err := s.CompleteJob(ctx, "j"); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	j, _ := s.GetJob(ctx, "j")
	if j.Status != "completed" {
		t.Errorf("status = %q, want completed", j.Status)
	}
	if err := s.CompleteJob(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("CompleteJob(missing) err = %v, want ErrNotFound", err)
	}
}
