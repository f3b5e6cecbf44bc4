package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"
)

// TextGenerator produces a single completion for a prompt.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// ErrEmptyCompletion is returned when the provider answers with no text.
var ErrEmptyCompletion = errors.New("provider returned empty text")

type GeminiOptions struct {
	APIKey         string
	Model          string
	RequestsPerMin int
	ConcurrentReqs int
}

type GeminiService struct {
	client   *genai.Client
	model    *genai.GenerativeModel
	limiter  *rate.Limiter
	rateChan chan struct{} // Concurrency slots
	logger   *zap.Logger
}

func NewGeminiService(opts GeminiOptions, logger *zap.Logger) (*GeminiService, error) {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(opts.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := client.GenerativeModel(opts.Model)
	model.SetTemperature(0.3)
	model.SetTopP(0.95)

	if opts.ConcurrentReqs <= 0 {
		opts.ConcurrentReqs = 5
	}
	if opts.RequestsPerMin <= 0 {
		opts.RequestsPerMin = 60
	}

	rateChan := make(chan struct{}, opts.ConcurrentReqs)
	for i := 0; i < opts.ConcurrentReqs; i++ {
		rateChan <- struct{}{}
	}

	return &GeminiService{
		client:   client,
		model:    model,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMin)), opts.ConcurrentReqs),
		rateChan: rateChan,
		logger:   logger,
	}, nil
}

func (s *GeminiService) Close() {
	s.client.Close()
}

// acquireRate blocks until both a concurrency slot and a request token are available
func (s *GeminiService) acquireRate(ctx context.Context) error {
	select {
	case <-s.rateChan:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := s.limiter.Wait(ctx); err != nil {
		s.rateChan <- struct{}{}
		return err
	}
	return nil
}

func (s *GeminiService) releaseRate() {
	s.rateChan <- struct{}{}
}

// GenerateText sends one prompt and returns the concatenated candidate text.
func (s *GeminiService) GenerateText(ctx context.Context, prompt string) (string, error) {
	if err := s.acquireRate(ctx); err != nil {
		return "", err
	}
	defer s.releaseRate()

	resp, err := s.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("Gemini API error: %w", err)
	}

	for i, cand := range resp.Candidates {
		if cand.FinishReason != genai.FinishReasonStop {
			s.logger.Warn("Gemini candidate stopped early",
				zap.Int("candidate", i),
				zap.Any("finish_reason", cand.FinishReason),
			)
		}
	}

	text := strings.TrimSpace(extractText(resp))
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}

// Helper functions

func extractText(resp *genai.GenerateContentResponse) string {
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					text.WriteString(string(t))
				}
			}
		}
	}
	return text.String()
}

// stripCodeFence removes a surrounding ```json fence from a model reply.
func stripCodeFence(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	return strings.TrimSpace(raw)
}
