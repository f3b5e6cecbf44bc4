package services

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/time/rate"

	"nycmg-backend/internal/apperr"
	"nycmg-backend/internal/models"
	"nycmg-backend/internal/store"
)

// errorRecordRepository persists records beyond process lifetime.
type errorRecordRepository interface {
	Insert(ctx context.Context, rec *models.ErrorRecord) error
	UpdateAnalysis(ctx context.Context, id uuid.UUID, analysis models.AIAnalysis) error
}

// errorPublisher fans new records out to live subscribers.
type errorPublisher interface {
	PublishError(ctx context.Context, rec *models.ErrorRecord) error
}

// stackTracer is implemented by errors that captured their own stack, such
// as recovered panics.
type stackTracer interface {
	StackTrace() string
}

// Observer receives counts of classifier and relay outcomes.
type Observer interface {
	ErrorRecorded(kind apperr.Kind, severity apperr.Severity)
	AnalysisCompleted(outcome string)
	ChatCompleted(outcome string)
}

// Analysis and chat outcomes reported to an Observer.
const (
	OutcomeProvider      = "provider"
	OutcomeDisabled      = "disabled"
	OutcomeProviderError = "provider_error"
	OutcomeUnparsable    = "unparsable"
	OutcomeOK            = "ok"
	OutcomeUnavailable   = "unavailable"
	OutcomeThrottled     = "throttled"
)

type nopObserver struct{}

func (nopObserver) ErrorRecorded(apperr.Kind, apperr.Severity) {}
func (nopObserver) AnalysisCompleted(string)                   {}
func (nopObserver) ChatCompleted(string)                       {}

type ClassifierOptions struct {
	AIEnabled bool
	Timeout   time.Duration
	// AnalysesPerMin caps provider analyses so error bursts cannot use up
	// the budget shared with chat. Zero means no cap of its own.
	AnalysesPerMin int
}

const maxAnalysisBurst = 5

// ErrorClassifier turns caught errors into stored, analyzed ErrorRecords.
type ErrorClassifier struct {
	llm       TextGenerator
	store     *store.ErrorStore
	repo      errorRecordRepository
	publisher errorPublisher
	observer  Observer
	limiter   *rate.Limiter
	logger    *zap.Logger
	aiEnabled bool
	timeout   time.Duration
	now       func() time.Time
}

func NewErrorClassifier(llm TextGenerator, errorStore *store.ErrorStore, logger *zap.Logger, opts ClassifierOptions) *ErrorClassifier {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	c := &ErrorClassifier{
		llm:       llm,
		store:     errorStore,
		observer:  nopObserver{},
		logger:    logger,
		aiEnabled: opts.AIEnabled && llm != nil,
		timeout:   opts.Timeout,
		now:       time.Now,
	}
	if opts.AnalysesPerMin > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.AnalysesPerMin)), min(opts.AnalysesPerMin, maxAnalysisBurst))
	}
	return c
}

// WithRepository adds a durable sink for records.
func (c *ErrorClassifier) WithRepository(repo errorRecordRepository) *ErrorClassifier {
	c.repo = repo
	return c
}

// WithObserver reports record and analysis counts to o.
func (c *ErrorClassifier) WithObserver(o Observer) *ErrorClassifier {
	c.observer = o
	return c
}

// WithPublisher adds a live-feed sink for records.
func (c *ErrorClassifier) WithPublisher(p errorPublisher) *ErrorClassifier {
	c.publisher = p
	return c
}

// AIEnabled reports whether records get a provider analysis.
func (c *ErrorClassifier) AIEnabled() bool {
	return c.aiEnabled
}

// ProcessError classifies err, asks the provider for an analysis and stores
// the resulting record. It never fails: provider and sink errors are logged
// and the record falls back to a synthetic analysis.
func (c *ErrorClassifier) ProcessError(ctx context.Context, err error, ectx models.ErrorContext) *models.ErrorRecord {
	classified := apperr.Classify(err)
	if classified == nil {
		classified = apperr.Internal("unknown error", "", nil)
	}

	rec := &models.ErrorRecord{
		ID:        uuid.New(),
		Message:   classified.Error(),
		Stack:     stackOf(err),
		Kind:      classified.Kind,
		Code:      classified.Code,
		Severity:  apperr.SeverityOf(classified),
		Context:   ectx,
		Timestamp: c.now().UTC(),
	}
	rec.Fingerprint = Fingerprint(rec.Kind, rec.Code, rec.Message)
	rec.AIAnalysis = c.analyze(ctx, rec)

	c.logger.Error("request error",
		zap.String("error_id", rec.ID.String()),
		zap.String("kind", string(rec.Kind)),
		zap.String("severity", string(rec.Severity)),
		zap.String("path", ectx.Path),
		zap.String("method", ectx.Method),
		zap.String("request_id", ectx.RequestID),
		zap.Bool("ai_synthetic", rec.AIAnalysis.Synthetic),
		zap.Error(err),
	)

	c.observer.ErrorRecorded(rec.Kind, rec.Severity)
	c.persist(ctx, rec)
	return rec
}

// Reanalyze asks the provider again for a record whose analysis is synthetic.
// It returns a new record; the old one is left untouched. The fresh analysis
// replaces the stored copy in memory and in the archive.
func (c *ErrorClassifier) Reanalyze(ctx context.Context, rec *models.ErrorRecord) *models.ErrorRecord {
	if !c.aiEnabled || !rec.AIAnalysis.Synthetic {
		return rec
	}
	analysis := c.analyze(ctx, rec)
	if analysis.Synthetic {
		return rec
	}
	updated := *rec
	updated.AIAnalysis = analysis
	if c.store != nil {
		c.store.Replace(&updated)
	}

	if c.repo != nil {
		repoCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := c.repo.UpdateAnalysis(repoCtx, updated.ID, analysis); err != nil {
			c.logger.Warn("failed to persist re-analysis", zap.String("error_id", updated.ID.String()), zap.Error(err))
		}
	}
	return &updated
}

func (c *ErrorClassifier) analyze(ctx context.Context, rec *models.ErrorRecord) models.AIAnalysis {
	if !c.aiEnabled {
		c.observer.AnalysisCompleted(OutcomeDisabled)
		return syntheticAnalysis(rec)
	}
	if c.limiter != nil && !c.limiter.Allow() {
		c.logger.Warn("AI analysis budget exhausted, using fallback", zap.String("error_id", rec.ID.String()))
		c.observer.AnalysisCompleted(OutcomeThrottled)
		return syntheticAnalysis(rec)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	raw, err := c.llm.GenerateText(ctx, buildAnalysisPrompt(rec))
	if err != nil {
		c.logger.Warn("AI analysis unavailable, using fallback",
			zap.String("error_id", rec.ID.String()),
			zap.Error(err),
		)
		c.observer.AnalysisCompleted(OutcomeProviderError)
		return syntheticAnalysis(rec)
	}

	analysis, ok := parseAnalysis(raw)
	if !ok {
		c.logger.Warn("AI analysis unparsable, using fallback", zap.String("error_id", rec.ID.String()))
		c.observer.AnalysisCompleted(OutcomeUnparsable)
		return syntheticAnalysis(rec)
	}
	c.observer.AnalysisCompleted(OutcomeProvider)
	return analysis
}

func (c *ErrorClassifier) persist(ctx context.Context, rec *models.ErrorRecord) {
	if c.store != nil {
		if err := c.store.Add(rec); err != nil {
			c.logger.Warn("failed to write error log", zap.String("error_id", rec.ID.String()), zap.Error(err))
		}
	}

	sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if c.repo != nil {
		if err := c.repo.Insert(sinkCtx, rec); err != nil {
			c.logger.Warn("failed to persist error record", zap.String("error_id", rec.ID.String()), zap.Error(err))
		}
	}
	if c.publisher != nil {
		if err := c.publisher.PublishError(sinkCtx, rec); err != nil {
			c.logger.Warn("failed to publish error record", zap.String("error_id", rec.ID.String()), zap.Error(err))
		}
	}
}

var digitRun = regexp.MustCompile(`[0-9]+`)

// Fingerprint groups recurring errors. Digits are collapsed so that ids and
// counters inside messages do not split a group.
func Fingerprint(kind apperr.Kind, code, message string) string {
	h, _ := blake2b.New(16, nil)
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(code))
	h.Write([]byte{0})
	h.Write([]byte(digitRun.ReplaceAllString(strings.ToLower(message), "#")))
	return hex.EncodeToString(h.Sum(nil))
}

func stackOf(err error) string {
	var st stackTracer
	if errors.As(err, &st) {
		return st.StackTrace()
	}
	return captureStack(3)
}

// captureStack formats up to 16 caller frames, skipping runtime internals.
func captureStack(skip int) string {
	pcs := make([]uintptr, 16)
	n := runtime.Callers(skip+1, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	var b strings.Builder
	for {
		frame, more := frames.Next()
		if !strings.HasPrefix(frame.Function, "runtime.") {
			fmt.Fprintf(&b, "%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)
		}
		if !more {
			break
		}
	}
	return b.String()
}

func buildAnalysisPrompt(rec *models.ErrorRecord) string {
	var b strings.Builder

	b.WriteString("You are a senior backend engineer on NYCMG, a music discovery app (artists, tracks, playlists, NYC boroughs). ")
	b.WriteString("Analyze the following API error.\n\n")
	b.WriteString("CRITICAL: Return ONLY a valid JSON object. No preamble, no markdown, no backticks.\n\n")
	b.WriteString(`JSON schema:
{"root_cause": "string", "suggested_fixes": ["string"], "user_communication": "one or two friendly sentences for the end user, no technical details"}
`)

	b.WriteString("\n---ERROR---\n")
	fmt.Fprintf(&b, "Kind: %s\nCode: %s\nSeverity: %s\nMessage: %s\n", rec.Kind, rec.Code, rec.Severity, rec.Message)
	if rec.Context.Method != "" || rec.Context.Path != "" {
		fmt.Fprintf(&b, "Request: %s %s\n", rec.Context.Method, rec.Context.Path)
	}
	if rec.Context.Component != "" {
		fmt.Fprintf(&b, "Component: %s\n", rec.Context.Component)
	}
	if rec.Context.Body != nil {
		if body, err := json.Marshal(rec.Context.Body); err == nil {
			fmt.Fprintf(&b, "Request body (sanitized): %s\n", truncate(string(body), 1000))
		}
	}
	if rec.Stack != "" {
		fmt.Fprintf(&b, "Stack:\n%s\n", truncate(rec.Stack, 2000))
	}
	b.WriteString("---END---\n")

	return b.String()
}

func parseAnalysis(raw string) (models.AIAnalysis, bool) {
	raw = stripCodeFence(raw)

	var out models.AIAnalysis
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		start := strings.Index(raw, "{")
		end := strings.LastIndex(raw, "}")
		if start < 0 || end <= start {
			return models.AIAnalysis{}, false
		}
		if err := json.Unmarshal([]byte(raw[start:end+1]), &out); err != nil {
			return models.AIAnalysis{}, false
		}
	}
	if out.RootCause == "" && out.UserCommunication == "" && len(out.SuggestedFixes) == 0 {
		return models.AIAnalysis{}, false
	}
	out.Synthetic = false
	return out, true
}

// syntheticAnalysis is substituted whenever the provider cannot answer.
func syntheticAnalysis(rec *models.ErrorRecord) models.AIAnalysis {
	a := models.AIAnalysis{
		RootCause: rec.Message,
		Synthetic: true,
	}
	switch rec.Kind {
	case apperr.KindValidation:
		a.UserCommunication = "Some of the information you sent is invalid. Please check it and try again."
		a.SuggestedFixes = []string{"Check the request fields against the API contract"}
	case apperr.KindAuthentication:
		a.UserCommunication = "Please sign in again to continue."
		a.SuggestedFixes = []string{"Refresh the access token", "Verify the Authorization header"}
	case apperr.KindDatabase:
		a.UserCommunication = "We're having trouble reaching our servers. Please try again in a moment."
		a.SuggestedFixes = []string{"Check database connectivity", "Inspect connection pool saturation"}
	case apperr.KindRateLimit:
		a.UserCommunication = "You're doing that too often. Please wait a moment and try again."
		a.SuggestedFixes = []string{"Back off and retry after the indicated delay"}
	case apperr.KindFileUpload:
		a.UserCommunication = "We couldn't accept that file. Please check its size and format."
		a.SuggestedFixes = []string{"Check the upload size limit", "Verify the multipart field name"}
	case apperr.KindNotFound:
		a.UserCommunication = "We couldn't find what you were looking for."
		a.SuggestedFixes = []string{"Verify the route and resource id"}
	default:
		a.UserCommunication = "Something went wrong on our side. Please try again later."
		a.SuggestedFixes = []string{"Inspect the server logs for this error id"}
	}
	return a
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
