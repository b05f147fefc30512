package processor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/equilens/equilens/internal/ledger"
	"github.com/equilens/equilens/internal/models"
	"github.com/equilens/equilens/internal/queue"
	"github.com/equilens/equilens/internal/session"
	"github.com/glebarez/sqlite"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// fakeEngine returns a canned payload or error.
type fakeEngine struct {
	payload datatypes.JSON
	err     error
	calls   int
}

func (e *fakeEngine) Analyze(_ context.Context, _ models.AnalysisType, _ []string) (datatypes.JSON, error) {
	e.calls++
	return e.payload, e.err
}

// recordingGuard tracks in-flight guard releases.
type recordingGuard struct {
	releases []uint64
}

func (g *recordingGuard) AcquireSessionGuard(_ context.Context, _ uint64, _ time.Duration) (bool, error) {
	return true, nil
}

func (g *recordingGuard) ReleaseSessionGuard(_ context.Context, sessionID uint64) error {
	g.releases = append(g.releases, sessionID)
	return nil
}

func newProcessorFixture(t *testing.T) (*session.Store, *ledger.Service, *gorm.DB) {
	t.Helper()
	conn, errOpen := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open sqlite: %v", errOpen)
	}
	sqlDB, errDB := conn.DB()
	if errDB != nil {
		t.Fatalf("sql db: %v", errDB)
	}
	sqlDB.SetMaxOpenConns(1)
	if errMigrate := conn.AutoMigrate(&models.TokenAccount{}, &models.TokenTransaction{}, &models.AnalysisSession{}, &models.Report{}); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	tokens := ledger.NewService(conn)
	return session.NewStore(conn, tokens, nil), tokens, conn
}

func submitSession(t *testing.T, store *session.Store, tokens *ledger.Service, analysisType models.AnalysisType) *models.AnalysisSession {
	t.Helper()
	ctx := context.Background()
	if errEnsure := tokens.EnsureAccount(ctx, 1); errEnsure != nil {
		t.Fatalf("ensure account: %v", errEnsure)
	}
	if _, errCredit := tokens.Credit(ctx, 1, 500, "test grant", nil); errCredit != nil {
		t.Fatalf("credit: %v", errCredit)
	}
	created, errSubmit := store.Submit(ctx, 1, analysisType, []string{"s3://media"}, nil)
	if errSubmit != nil {
		t.Fatalf("submit: %v", errSubmit)
	}
	return created
}

func analysisJob(record *models.AnalysisSession, attempt int) *queue.Job[queue.AnalysisJob] {
	return &queue.Job[queue.AnalysisJob]{
		Payload: queue.AnalysisJob{
			SessionID:      record.ID,
			OrganizationID: record.OrganizationID,
			Type:           record.Type,
			InputMediaURLs: []string{"s3://media"},
		},
		Attempt: attempt,
	}
}

func TestAnalysisProcessorCompletesSession(t *testing.T) {
	store, tokens, _ := newProcessorFixture(t)
	ctx := context.Background()
	created := submitSession(t, store, tokens, models.AnalysisTypeRadiological)

	engine := &fakeEngine{payload: datatypes.JSON(`{"finding":"clear"}`)}
	proc := NewAnalysisProcessor(store, engine, nil, time.Minute, 3)

	if errHandle := proc.Handle(ctx, analysisJob(created, 1)); errHandle != nil {
		t.Fatalf("handle: %v", errHandle)
	}

	loaded, errGet := store.Get(ctx, created.ID)
	if errGet != nil {
		t.Fatalf("get: %v", errGet)
	}
	if loaded.Status != models.SessionStatusCompleted {
		t.Fatalf("status = %s, want completed", loaded.Status)
	}
	if string(loaded.ResultPayload) != `{"finding":"clear"}` {
		t.Fatalf("result payload = %s", loaded.ResultPayload)
	}
	if loaded.StartedAt == nil || loaded.CompletedAt == nil {
		t.Fatalf("timestamps not recorded")
	}
}

func TestAnalysisProcessorNonFinalFailureLeavesSessionProcessing(t *testing.T) {
	store, tokens, _ := newProcessorFixture(t)
	ctx := context.Background()
	created := submitSession(t, store, tokens, models.AnalysisTypeLocomotion)

	engine := &fakeEngine{err: errors.New("engine unavailable")}
	proc := NewAnalysisProcessor(store, engine, nil, time.Minute, 3)

	if errHandle := proc.Handle(ctx, analysisJob(created, 1)); errHandle == nil {
		t.Fatalf("expected handler error")
	}

	loaded, errGet := store.Get(ctx, created.ID)
	if errGet != nil {
		t.Fatalf("get: %v", errGet)
	}
	// Attempt-level failures stay inside the queue until attempts run out.
	if loaded.Status != models.SessionStatusProcessing {
		t.Fatalf("status = %s, want processing", loaded.Status)
	}
}

func TestAnalysisProcessorFinalFailureMarksSessionFailed(t *testing.T) {
	store, tokens, _ := newProcessorFixture(t)
	ctx := context.Background()
	created := submitSession(t, store, tokens, models.AnalysisTypeLocomotion)

	engine := &fakeEngine{err: errors.New("engine unavailable")}
	proc := NewAnalysisProcessor(store, engine, nil, time.Minute, 3)

	if errHandle := proc.Handle(ctx, analysisJob(created, 3)); errHandle == nil {
		t.Fatalf("expected handler error")
	}

	loaded, errGet := store.Get(ctx, created.ID)
	if errGet != nil {
		t.Fatalf("get: %v", errGet)
	}
	if loaded.Status != models.SessionStatusFailed {
		t.Fatalf("status = %s, want failed", loaded.Status)
	}
	if loaded.ErrorMessage == "" {
		t.Fatalf("terminal failure must record the error message")
	}
}

func TestAnalysisProcessorDropsCancelledSession(t *testing.T) {
	store, tokens, _ := newProcessorFixture(t)
	ctx := context.Background()
	created := submitSession(t, store, tokens, models.AnalysisTypeVideoCourse)

	if _, errCancel := store.Cancel(ctx, created.ID); errCancel != nil {
		t.Fatalf("cancel: %v", errCancel)
	}

	engine := &fakeEngine{payload: datatypes.JSON(`{}`)}
	proc := NewAnalysisProcessor(store, engine, nil, time.Minute, 3)

	if errHandle := proc.Handle(ctx, analysisJob(created, 1)); errHandle != nil {
		t.Fatalf("handle: %v", errHandle)
	}
	if engine.calls != 0 {
		t.Fatalf("engine ran for a cancelled session")
	}

	loaded, errGet := store.Get(ctx, created.ID)
	if errGet != nil {
		t.Fatalf("get: %v", errGet)
	}
	if loaded.Status != models.SessionStatusCancelled {
		t.Fatalf("status = %s, want cancelled", loaded.Status)
	}
}

func TestAnalysisProcessorReleasesGuardWhenFinalClaimFails(t *testing.T) {
	store, tokens, conn := newProcessorFixture(t)
	ctx := context.Background()
	created := submitSession(t, store, tokens, models.AnalysisTypeRadiological)

	sqlDB, errDB := conn.DB()
	if errDB != nil {
		t.Fatalf("sql db: %v", errDB)
	}
	if errClose := sqlDB.Close(); errClose != nil {
		t.Fatalf("close db: %v", errClose)
	}

	guard := &recordingGuard{}
	proc := NewAnalysisProcessor(store, &fakeEngine{}, guard, time.Minute, 3)

	if errHandle := proc.Handle(ctx, analysisJob(created, 3)); errHandle == nil {
		t.Fatalf("expected claim error once the store is unreachable")
	}
	if len(guard.releases) != 1 || guard.releases[0] != created.ID {
		t.Fatalf("guard must be released on a final-attempt claim failure, releases = %v", guard.releases)
	}
}

func TestAnalysisProcessorRetryAttemptResumesProcessingSession(t *testing.T) {
	store, tokens, _ := newProcessorFixture(t)
	ctx := context.Background()
	created := submitSession(t, store, tokens, models.AnalysisTypeRadiological)

	// First attempt claimed the session and failed inside the engine.
	if claimed, errMark := store.MarkProcessing(ctx, created.ID); errMark != nil || !claimed {
		t.Fatalf("mark processing: claimed=%v err=%v", claimed, errMark)
	}

	engine := &fakeEngine{payload: datatypes.JSON(`{"finding":"clear"}`)}
	proc := NewAnalysisProcessor(store, engine, nil, time.Minute, 3)

	if errHandle := proc.Handle(ctx, analysisJob(created, 2)); errHandle != nil {
		t.Fatalf("handle: %v", errHandle)
	}

	loaded, errGet := store.Get(ctx, created.ID)
	if errGet != nil {
		t.Fatalf("get: %v", errGet)
	}
	if loaded.Status != models.SessionStatusCompleted {
		t.Fatalf("status = %s, want completed", loaded.Status)
	}
}
