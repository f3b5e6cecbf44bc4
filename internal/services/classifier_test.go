package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"nycmg-backend/internal/apperr"
	"nycmg-backend/internal/models"
	"nycmg-backend/internal/store"
)

type stubGenerator struct {
	reply   string
	err     error
	prompts []string
	block   bool
}

func (s *stubGenerator) GenerateText(ctx context.Context, prompt string) (string, error) {
	s.prompts = append(s.prompts, prompt)
	if s.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return s.reply, s.err
}

type stubRepo struct {
	inserted []*models.ErrorRecord
	updated  map[uuid.UUID]models.AIAnalysis
	err      error
}

func (s *stubRepo) Insert(ctx context.Context, rec *models.ErrorRecord) error {
	s.inserted = append(s.inserted, rec)
	return s.err
}

func (s *stubRepo) UpdateAnalysis(ctx context.Context, id uuid.UUID, analysis models.AIAnalysis) error {
	if s.updated == nil {
		s.updated = make(map[uuid.UUID]models.AIAnalysis)
	}
	s.updated[id] = analysis
	return s.err
}

type stubPublisher struct {
	published []*models.ErrorRecord
}

func (s *stubPublisher) PublishError(ctx context.Context, rec *models.ErrorRecord) error {
	s.published = append(s.published, rec)
	return nil
}

func newTestStore(t *testing.T) *store.ErrorStore {
	t.Helper()
	s, err := store.NewErrorStore(store.Options{MaxErrors: 50})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return s
}

func TestProcessError_UsesProviderAnalysis(t *testing.T) {
	gen := &stubGenerator{reply: "```json\n" + `{"root_cause":"playlist id missing","suggested_fixes":["validate id","add default","log input","retry"],"user_communication":"Please pick a playlist."}` + "\n```"}
	s := newTestStore(t)
	c := NewErrorClassifier(gen, s, zap.NewNop(), ClassifierOptions{AIEnabled: true})

	rec := c.ProcessError(context.Background(), apperr.Validation("playlist_id is required", nil), models.ErrorContext{Path: "/api/v1/playlists", Method: "POST"})

	if rec.Kind != apperr.KindValidation || rec.Severity != apperr.SeverityMedium {
		t.Fatalf("unexpected classification: %s/%s", rec.Kind, rec.Severity)
	}
	if rec.AIAnalysis.Synthetic {
		t.Fatal("expected provider analysis, got synthetic")
	}
	if rec.AIAnalysis.UserCommunication != "Please pick a playlist." {
		t.Fatalf("unexpected user communication: %q", rec.AIAnalysis.UserCommunication)
	}
	if len(gen.prompts) != 1 {
		t.Fatalf("expected exactly one provider call, got %d", len(gen.prompts))
	}
	if !strings.Contains(gen.prompts[0], "POST /api/v1/playlists") {
		t.Fatalf("prompt should carry the request line")
	}
	if _, ok := s.Get(rec.ID); !ok {
		t.Fatal("record should be stored")
	}
	if rec.Fingerprint == "" {
		t.Fatal("expected fingerprint")
	}
}

func TestProcessError_FallsBackOnProviderFailure(t *testing.T) {
	gen := &stubGenerator{err: errors.New("503 from provider")}
	c := NewErrorClassifier(gen, newTestStore(t), zap.NewNop(), ClassifierOptions{AIEnabled: true})

	rec := c.ProcessError(context.Background(), errors.New("nil pointer in track handler"), models.ErrorContext{})

	if !rec.AIAnalysis.Synthetic {
		t.Fatal("expected synthetic analysis")
	}
	if rec.Severity != apperr.SeverityHigh {
		t.Fatalf("generic errors default to HIGH, got %s", rec.Severity)
	}
	if rec.AIAnalysis.UserCommunication == "" {
		t.Fatal("synthetic analysis must carry a user message")
	}
}

func TestProcessError_FallsBackOnTimeout(t *testing.T) {
	gen := &stubGenerator{block: true}
	c := NewErrorClassifier(gen, newTestStore(t), zap.NewNop(), ClassifierOptions{AIEnabled: true, Timeout: 20 * time.Millisecond})

	done := make(chan *models.ErrorRecord, 1)
	go func() {
		done <- c.ProcessError(context.Background(), errors.New("slow"), models.ErrorContext{})
	}()

	select {
	case rec := <-done:
		if !rec.AIAnalysis.Synthetic {
			t.Fatal("expected synthetic analysis after timeout")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ProcessError blocked past the provider timeout")
	}
}

func TestProcessError_UnparsableReply(t *testing.T) {
	gen := &stubGenerator{reply: "I think the database is down."}
	c := NewErrorClassifier(gen, newTestStore(t), zap.NewNop(), ClassifierOptions{AIEnabled: true})

	rec := c.ProcessError(context.Background(), errors.New("boom"), models.ErrorContext{})
	if !rec.AIAnalysis.Synthetic {
		t.Fatal("expected synthetic analysis for non-JSON reply")
	}
}

func TestProcessError_DisabledSkipsProvider(t *testing.T) {
	gen := &stubGenerator{reply: `{"root_cause":"x"}`}
	c := NewErrorClassifier(gen, newTestStore(t), zap.NewNop(), ClassifierOptions{AIEnabled: false})

	rec := c.ProcessError(context.Background(), apperr.RateLimited(0), models.ErrorContext{})
	if len(gen.prompts) != 0 {
		t.Fatal("provider must not be called when disabled")
	}
	if !rec.AIAnalysis.Synthetic || rec.Severity != apperr.SeverityLow {
		t.Fatalf("unexpected record: synthetic=%v severity=%s", rec.AIAnalysis.Synthetic, rec.Severity)
	}
}

func TestProcessError_Sinks(t *testing.T) {
	repo := &stubRepo{err: errors.New("db down")}
	pub := &stubPublisher{}
	c := NewErrorClassifier(nil, newTestStore(t), zap.NewNop(), ClassifierOptions{}).
		WithRepository(repo).
		WithPublisher(pub)

	rec := c.ProcessError(context.Background(), apperr.NotFound("Artist not found"), models.ErrorContext{})
	if rec == nil {
		t.Fatal("sink failure must not drop the record")
	}
	if len(repo.inserted) != 1 || len(pub.published) != 1 {
		t.Fatalf("expected one insert and one publish, got %d/%d", len(repo.inserted), len(pub.published))
	}
}

type panicErr struct{ stack string }

func (p panicErr) Error() string      { return "panic: index out of range" }
func (p panicErr) StackTrace() string { return p.stack }

func TestProcessError_PrefersErrorStack(t *testing.T) {
	c := NewErrorClassifier(nil, newTestStore(t), zap.NewNop(), ClassifierOptions{})
	rec := c.ProcessError(context.Background(), panicErr{stack: "goroutine 1 [running]"}, models.ErrorContext{})
	if rec.Stack != "goroutine 1 [running]" {
		t.Fatalf("expected panic stack, got %q", rec.Stack)
	}
}

func TestReanalyze(t *testing.T) {
	gen := &stubGenerator{err: errors.New("offline")}
	s := newTestStore(t)
	c := NewErrorClassifier(gen, s, zap.NewNop(), ClassifierOptions{AIEnabled: true})

	rec := c.ProcessError(context.Background(), errors.New("boom"), models.ErrorContext{})
	if !rec.AIAnalysis.Synthetic {
		t.Fatal("expected synthetic analysis first")
	}

	gen.err = nil
	gen.reply = `{"root_cause":"bad cache key","suggested_fixes":["flush"],"user_communication":"Try again."}`
	updated := c.Reanalyze(context.Background(), rec)

	if updated.AIAnalysis.Synthetic || updated.AIAnalysis.RootCause != "bad cache key" {
		t.Fatalf("expected fresh analysis, got %+v", updated.AIAnalysis)
	}
	if !rec.AIAnalysis.Synthetic {
		t.Fatal("original record must not change")
	}
	stored, _ := s.Get(rec.ID)
	if stored.AIAnalysis.RootCause != "bad cache key" {
		t.Fatal("store should hold the re-analyzed copy")
	}
}

func TestReanalyze_UpdatesArchive(t *testing.T) {
	gen := &stubGenerator{reply: `{"root_cause":"replica lag","suggested_fixes":["retry"],"user_communication":"Try again."}`}
	repo := &stubRepo{}
	c := NewErrorClassifier(gen, newTestStore(t), zap.NewNop(), ClassifierOptions{AIEnabled: true}).WithRepository(repo)

	// Only in the archive: the memory store has never seen it.
	archived := &models.ErrorRecord{
		ID:         uuid.New(),
		Message:    "playlist save failed",
		Kind:       apperr.KindDatabase,
		Severity:   apperr.SeverityCritical,
		AIAnalysis: models.AIAnalysis{RootCause: "playlist save failed", Synthetic: true},
	}
	updated := c.Reanalyze(context.Background(), archived)

	if updated.AIAnalysis.Synthetic {
		t.Fatal("expected a provider analysis")
	}
	got, ok := repo.updated[archived.ID]
	if !ok || got.RootCause != "replica lag" {
		t.Fatalf("expected archive update, got %+v", repo.updated)
	}
}

func TestProcessError_AnalysisBudget(t *testing.T) {
	gen := &stubGenerator{reply: `{"root_cause":"x","suggested_fixes":[],"user_communication":"y"}`}
	c := NewErrorClassifier(gen, newTestStore(t), zap.NewNop(), ClassifierOptions{AIEnabled: true, AnalysesPerMin: 1})

	first := c.ProcessError(context.Background(), apperr.NotFound("Artist not found"), models.ErrorContext{})
	second := c.ProcessError(context.Background(), apperr.NotFound("Artist not found"), models.ErrorContext{})

	if first.AIAnalysis.Synthetic {
		t.Fatal("first analysis should reach the provider")
	}
	if !second.AIAnalysis.Synthetic {
		t.Fatal("second analysis should fall back once the budget is spent")
	}
	if len(gen.prompts) != 1 {
		t.Fatalf("expected 1 provider call, got %d", len(gen.prompts))
	}
}

func TestFingerprint_CollapsesDigits(t *testing.T) {
	a := Fingerprint(apperr.KindNotFound, "NOT_FOUND", "track 123 not found")
	b := Fingerprint(apperr.KindNotFound, "NOT_FOUND", "Track 98765 not found")
	c := Fingerprint(apperr.KindGeneric, "NOT_FOUND", "track 123 not found")

	if a != b {
		t.Fatal("expected messages differing only in digits to share a fingerprint")
	}
	if a == c {
		t.Fatal("expected kind to change the fingerprint")
	}
	if len(a) != 32 {
		t.Fatalf("expected 128-bit hex fingerprint, got %d chars", len(a))
	}
}

func TestSanitize(t *testing.T) {
	headers := SanitizeHeaders(map[string][]string{
		"Authorization": {"Bearer abc"},
		"Content-Type":  {"application/json"},
	})
	if headers["Authorization"] != redacted || headers["Content-Type"] != "application/json" {
		t.Fatalf("unexpected headers: %v", headers)
	}

	body := SanitizeBody(map[string]interface{}{
		"email":    "a@b.c",
		"password": "hunter2",
		"profile":  map[string]interface{}{"refresh_token": "xyz", "borough": "Queens"},
	}).(map[string]interface{})

	if body["password"] != redacted {
		t.Fatal("password should be redacted")
	}
	profile := body["profile"].(map[string]interface{})
	if profile["refresh_token"] != redacted || profile["borough"] != "Queens" {
		t.Fatalf("unexpected nested body: %v", profile)
	}
}
