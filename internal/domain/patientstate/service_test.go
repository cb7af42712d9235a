package patientstate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

type fakeRepo struct {
	states map[uuid.UUID]*State
	getErr error
	putErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{states: make(map[uuid.UUID]*State)}
}

func (f *fakeRepo) Get(ctx context.Context, patientID uuid.UUID) (*State, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	st, ok := f.states[patientID]
	if !ok {
		return nil, ErrNotFound
	}
	return st, nil
}

func (f *fakeRepo) Put(ctx context.Context, patientID uuid.UUID, doc *Document) error {
	if f.putErr != nil {
		return f.putErr
	}
	version := 1
	if prev, ok := f.states[patientID]; ok {
		version = prev.Version + 1
	}
	f.states[patientID] = &State{PatientID: patientID, Version: version, Document: doc}
	return nil
}

func TestRecordAssessmentCompleted_InitializesMissingDocument(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	patientID := uuid.New()
	assessmentID := uuid.New()
	completedAt := time.Now()

	err := svc.RecordAssessmentCompleted(context.Background(), patientID, assessmentID, "cardio-age", completedAt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	st := repo.states[patientID]
	if st == nil {
		t.Fatal("expected a document to be created")
	}
	doc := st.Document
	if len(doc.Activity) != 1 {
		t.Fatalf("expected 1 activity entry, got %d", len(doc.Activity))
	}
	entry := doc.Activity[0]
	if entry.Type != "assessment_completed" || entry.AssessmentID != assessmentID || entry.FunnelSlug != "cardio-age" {
		t.Errorf("unexpected activity entry %+v", entry)
	}
	if doc.Assessment == nil || doc.Assessment.LastAssessmentID != assessmentID {
		t.Error("expected assessment summary to point to the new assessment")
	}
	if doc.Assessment.Status != "completed" || doc.Assessment.Progress != 1.0 {
		t.Errorf("unexpected summary %+v", doc.Assessment)
	}
	if doc.Results == nil || doc.Dialog == nil || doc.Metrics == nil {
		t.Error("sibling sections must be initialized, not nil")
	}
}

func TestRecordAssessmentCompleted_ActivityIsNewestFirstAndCapped(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	patientID := uuid.New()
	base := time.Now()

	var ids []uuid.UUID
	for i := 0; i < ActivityCap+3; i++ {
		id := uuid.New()
		ids = append(ids, id)
		err := svc.RecordAssessmentCompleted(context.Background(), patientID, id, "cardio-age",
			base.Add(time.Duration(i)*time.Minute))
		if err != nil {
			t.Fatalf("merge %d: %v", i, err)
		}
	}

	doc := repo.states[patientID].Document
	if len(doc.Activity) != ActivityCap {
		t.Fatalf("expected log capped at %d, got %d", ActivityCap, len(doc.Activity))
	}
	// Head is the most recent completion; the oldest three fell off.
	if doc.Activity[0].AssessmentID != ids[len(ids)-1] {
		t.Error("head of the log must be the newest entry")
	}
	last := doc.Activity[len(doc.Activity)-1]
	if last.AssessmentID != ids[3] {
		t.Errorf("tail should be the oldest surviving entry, got %s", last.AssessmentID)
	}
}

func TestRecordAssessmentCompleted_SummaryIsOverwrittenWholesale(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	patientID := uuid.New()

	firstID, secondID := uuid.New(), uuid.New()
	firstAt := time.Now().Add(-time.Hour)
	secondAt := time.Now()

	if err := svc.RecordAssessmentCompleted(context.Background(), patientID, firstID, "cardio-age", firstAt); err != nil {
		t.Fatal(err)
	}
	if err := svc.RecordAssessmentCompleted(context.Background(), patientID, secondID, "sleep-apnea", secondAt); err != nil {
		t.Fatal(err)
	}

	summary := repo.states[patientID].Document.Assessment
	if summary.LastAssessmentID != secondID {
		t.Error("summary must be replaced, not merged")
	}
	if summary.CompletedAt == nil || !summary.CompletedAt.Equal(secondAt) {
		t.Errorf("unexpected completedAt %v", summary.CompletedAt)
	}
}

func TestRecordAssessmentCompleted_PreservesSiblingSections(t *testing.T) {
	repo := newFakeRepo()
	patientID := uuid.New()
	repo.states[patientID] = &State{
		PatientID: patientID,
		Version:   4,
		Document: &Document{
			Results: map[string]interface{}{"risk_score": 0.7},
			Dialog:  map[string]interface{}{"last_prompt": "intro"},
		},
	}
	svc := NewService(repo)

	err := svc.RecordAssessmentCompleted(context.Background(), patientID, uuid.New(), "cardio-age", time.Now())
	if err != nil {
		t.Fatal(err)
	}

	doc := repo.states[patientID].Document
	if doc.Results["risk_score"] != 0.7 {
		t.Error("results section must be carried through untouched")
	}
	if doc.Dialog["last_prompt"] != "intro" {
		t.Error("dialog section must be carried through untouched")
	}
	if doc.Metrics == nil {
		t.Error("missing metrics section must be normalized to empty")
	}
	if repo.states[patientID].Version != 5 {
		t.Errorf("expected version bump to 5, got %d", repo.states[patientID].Version)
	}
}

func TestRecordAssessmentCompleted_UpdatedAtRefreshed(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	fixed := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	svc.nowFunc = func() time.Time { return fixed }

	patientID := uuid.New()
	if err := svc.RecordAssessmentCompleted(context.Background(), patientID, uuid.New(), "cardio-age", fixed.Add(-time.Minute)); err != nil {
		t.Fatal(err)
	}
	if got := repo.states[patientID].Document.UpdatedAt; !got.Equal(fixed) {
		t.Errorf("expected updatedAt %v, got %v", fixed, got)
	}
}

func TestRecordAssessmentCompleted_RepoErrorsPropagate(t *testing.T) {
	repo := newFakeRepo()
	repo.getErr = errors.New("db down")
	svc := NewService(repo)

	err := svc.RecordAssessmentCompleted(context.Background(), uuid.New(), uuid.New(), "cardio-age", time.Now())
	if err == nil {
		t.Fatal("expected load error to propagate so the caller can log it")
	}
}

func TestGet_MissingDocumentYieldsEmptyState(t *testing.T) {
	svc := NewService(newFakeRepo())
	patientID := uuid.New()

	st, err := svc.Get(context.Background(), patientID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Version != 0 {
		t.Errorf("expected version 0, got %d", st.Version)
	}
	if st.Document == nil || len(st.Document.Activity) != 0 {
		t.Error("expected an empty initialized document")
	}
}

func TestActivityLogPrepend(t *testing.T) {
	var log ActivityLog
	for i := 0; i < ActivityCap; i++ {
		log = log.Prepend(Activity{FunnelSlug: "cardio-age", OccurredAt: time.Now()})
	}
	if len(log) != ActivityCap {
		t.Fatalf("expected %d entries, got %d", ActivityCap, len(log))
	}
	over := Activity{FunnelSlug: "sleep-apnea"}
	log = log.Prepend(over)
	if len(log) != ActivityCap {
		t.Fatalf("prepend past capacity must not grow the log, got %d", len(log))
	}
	if log[0].FunnelSlug != "sleep-apnea" {
		t.Error("newest entry must be at the head")
	}
}
