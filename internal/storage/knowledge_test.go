package storage

import (
	"context"
	"testing"
	"time"
)

func TestSaveAndGetKnowledgeDoc(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	doc := KnowledgeDoc{
		ID:      "doc-1",
		Title:   "Heat stroke first aid",
		Content: "Move to shade, cool with water, give fluids if conscious.",
		Source:  "cli",
		Format:  "text",
	}
	if err := s.SaveKnowledgeDoc(ctx, doc); err != nil {
		t.Fatalf("SaveKnowledgeDoc: %v", err)
	}
	if err := s.MarkKnowledgeDocIndexed(ctx, "doc-1", 3); err != nil {
		t.Fatalf("MarkKnowledgeDocIndexed: %v", err)
	}

	got, err := s.GetKnowledgeDoc(ctx, "doc-1")
	if err != nil {
		t.Fatalf("GetKnowledgeDoc: %v", err)
	}
	if got.ChunkCount != 3 || got.Tags != "[]" || got.Title != doc.Title {
		t.Errorf("unexpected doc: %+v", got)
	}

	if err := s.MarkKnowledgeDocIndexed(ctx, "missing", 1); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	docs, err := s.ListKnowledgeDocs(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListKnowledgeDocs: %v", err)
	}
	if len(docs) != 1 {
		t.Errorf("got %d docs, want 1", len(docs))
	}
}

func TestEnqueueAndClaimJob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.EnqueueJob(ctx, Job{ID: "j1", Type: "knowledge_index", PayloadJSON: `{"doc_id":"d1"}`}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	got, err := s.ClaimNextJob(ctx, []string{"knowledge_index"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got == nil {
		t.Fatal("ClaimNextJob returned nil")
	}
	if got.ID != "j1" || got.Status != "running" || got.MaxAttempts != 3 {
		t.Errorf("unexpected job: %+v", got)
	}

	again, err := s.ClaimNextJob(ctx, []string{"knowledge_index"})
	if err != nil {
		t.Fatalf("second ClaimNextJob: %v", err)
	}
	if again != nil {
		t.Errorf("running job claimed twice: %+v", again)
	}
}

func TestClaimNextJob_RespectsRunAfterAndType(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.EnqueueJob(ctx, Job{ID: "later", Type: "knowledge_index", RunAfter: time.Now().Add(time.Hour)})
	s.EnqueueJob(ctx, Job{ID: "other", Type: "something_else"})

	got, err := s.ClaimNextJob(ctx, []string{"knowledge_index"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestFailJob_BacksOffThenFails(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.EnqueueJob(ctx, Job{ID: "j1", Type: "knowledge_index", MaxAttempts: 2})

	if err := s.FailJob(ctx, "j1", "embed timeout"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	status, lastErr, err := s.JobStatus(ctx, "j1")
	if err != nil {
		t.Fatalf("JobStatus: %v", err)
	}
	if status != "pending" || lastErr != "embed timeout" {
		t.Errorf("after first failure: status=%q lastErr=%q", status, lastErr)
	}

	if err := s.FailJob(ctx, "j1", "embed timeout"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	status, _, _ = s.JobStatus(ctx, "j1")
	if status != "failed" {
		t.Errorf("after max attempts: status=%q, want failed", status)
	}

	if err := s.FailJob(ctx, "missing", "x"); err != ErrNotFound {
		t.Errorf("FailJob(missing) = %v, want ErrNotFound", err)
	}
}

func TestCompleteJob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.EnqueueJob(ctx, Job{ID: "j1", Type: "knowledge_index"})
	if err := s.CompleteJob(ctx, "j1"); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	status, _, _ := s.JobStatus(ctx, "j1")
	if status != "completed" {
		t.Errorf("status = %q, want completed", status)
	}
	if err := s.CompleteJob(ctx, "missing"); err != ErrNotFound {
		t.Errorf("CompleteJob(missing) = %v, want ErrNotFound", err)
	}
}
