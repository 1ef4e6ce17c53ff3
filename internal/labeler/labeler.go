// Package labeler is the pipeline's central state machine: it resolves a
// conversation by id, retrieves reference samples, calls the LLM backend,
// validates the response against the active vocabulary, and assigns the
// completed / needs_review / failed outcome.
package labeler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lumenware/triage/internal/conversation"
	"github.com/lumenware/triage/internal/sample"
	"github.com/lumenware/triage/internal/vector"
)

// Completer is the single capability required of an LLM backend.
type Completer interface {
	Complete(ctx context.Context, model, system, user string) (string, error)
	Model() string
	FallbackModel() string
}

// Retriever finds reference samples for a conversation's text.
type Retriever interface {
	Retrieve(ctx context.Context, text string, k int, floor float64) ([]vector.Match, error)
}

// Store is the persistence the labeler needs: fresh conversation reads
// and per-conversation label upserts.
type Store interface {
	GetConversation(ctx context.Context, id string) (*conversation.Conversation, error)
	GetLabel(ctx context.Context, conversationID string) (*LabelRecord, error)
	UpsertLabel(ctx context.Context, rec LabelRecord) error
}

// LibraryProvider exposes the current sample library.
type LibraryProvider interface {
	Current() *sample.Library
}

// Options carries the tunables of the labeling state machine.
type Options struct {
	ConfidenceThreshold float64
	RetryCeiling        int // additional attempts per model after the first
	TopK                int
	MinSimilarity       float64
	ChunkMessages       int
	TranscriptBudget    int // chars; above this the summary policy kicks in
	ReasoningMaxChars   int
	MaxWorkers          int
}

type Service struct {
	store     Store
	retriever Retriever
	llm       Completer
	library   LibraryProvider
	opts      Options
	logger    *slog.Logger
}

func NewService(store Store, retriever Retriever, llm Completer, library LibraryProvider, opts Options, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		retriever: retriever,
		llm:       llm,
		library:   library,
		opts:      opts,
		logger:    logger,
	}
}

// violation classifies an invalid LLM response.
type violation struct {
	code   string
	detail string
}

func (v *violation) Error() string {
	return fmt.Sprintf("%s: %s", v.code, v.detail)
}

// Label runs the full state machine for one conversation id. Only the id
// crosses the ingestion boundary; current state is re-read here so
// retries never act on a stale snapshot. A returned error means the
// conversation was not processed and remains safely rerunnable; LLM
// violations do not error, they persist a failed record.
func (s *Service) Label(ctx context.Context, conversationID string) (*LabelRecord, error) {
	convo, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if !convo.Labelable() {
		return nil, fmt.Errorf("conversation %s has no usable messages", conversationID)
	}

	lib := s.library.Current()
	vocabulary := lib.Vocabulary()
	if len(vocabulary) == 0 {
		return nil, fmt.Errorf("sample library is empty, no label vocabulary")
	}

	workingText, err := s.workingText(ctx, convo)
	if err != nil {
		return nil, err
	}

	matches, err := s.retriever.Retrieve(ctx, workingText, s.opts.TopK, s.opts.MinSimilarity)
	if err != nil {
		return nil, fmt.Errorf("retrieve samples: %w", err)
	}

	prompt := buildLabelPrompt(convo, workingText, matches, vocabulary)

	models := []string{s.llm.Model()}
	if fb := s.llm.FallbackModel(); fb != "" {
		models = append(models, fb)
	}

	var lastViolation *violation
	var lastModel string
	for _, model := range models {
		lastModel = model
		for attempt := 0; attempt <= s.opts.RetryCeiling; attempt++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			raw, err := s.llm.Complete(ctx, model, labelSystemPrompt, prompt)
			if err != nil {
				s.logger.Warn("llm call failed",
					"conversation_id", conversationID,
					"model", model,
					"attempt", attempt,
					"error", err,
				)
				lastViolation = &violation{code: ErrCodeBackendError, detail: err.Error()}
				continue
			}

			resp, v := s.validate(raw, lib)
			if v != nil {
				s.logger.Warn("invalid llm response",
					"conversation_id", conversationID,
					"model", model,
					"attempt", attempt,
					"violation", v.code,
					"detail", v.detail,
				)
				lastViolation = v
				continue
			}

			rec := s.recordFor(conversationID, resp, matches, model)
			if err := s.store.UpsertLabel(ctx, *rec); err != nil {
				return nil, fmt.Errorf("persist label: %w", err)
			}
			s.logger.Info("conversation labeled",
				"conversation_id", conversationID,
				"label", rec.LabelPrimary,
				"confidence", rec.Confidence,
				"status", string(rec.Status),
				"model", model,
			)
			return rec, nil
		}
	}

	// Retry ceiling exhausted on every backend: terminal failed record.
	rec := &LabelRecord{
		ConversationID:     conversationID,
		ReferenceSampleIDs: sampleIDs(matches),
		Status:             StatusFailed,
		ErrorCode:          lastViolation.code,
		Source:             SourceModel,
		ModelVersion:       lastModel,
		LabeledAt:          time.Now().UTC(),
	}
	if err := s.store.UpsertLabel(ctx, *rec); err != nil {
		return nil, fmt.Errorf("persist failed label: %w", err)
	}
	s.logger.Error("labeling failed after retries",
		"conversation_id", conversationID,
		"error_code", lastViolation.code,
		"detail", lastViolation.detail,
	)
	return rec, nil
}

// workingText returns the raw transcript, or when it exceeds the budget,
// the concatenation of per-chunk summaries. Chunk boundaries are by
// message count, which is deterministic across reruns.
func (s *Service) workingText(ctx context.Context, convo *conversation.Conversation) (string, error) {
	transcript := convo.Transcript()
	if len(transcript) <= s.opts.TranscriptBudget {
		return transcript, nil
	}

	chunks := chunkMessages(convo.Messages, s.opts.ChunkMessages)
	s.logger.Info("transcript over budget, summarizing chunks",
		"conversation_id", convo.ID,
		"chars", len(transcript),
		"chunks", len(chunks),
	)

	summaries := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		var sb strings.Builder
		for _, msg := range chunk {
			fmt.Fprintf(&sb, "[%s] %s\n", msg.SenderType, msg.Text)
		}

		raw, err := s.llm.Complete(ctx, s.llm.Model(), summarySystemPrompt, buildSummaryPrompt(i, len(chunks), sb.String()))
		if err != nil {
			return "", fmt.Errorf("summarize chunk %d: %w", i, err)
		}

		var parsed struct {
			Summary string `json:"summary"`
		}
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil || parsed.Summary == "" {
			// Non-JSON summary output is still usable text.
			summaries = append(summaries, raw)
			continue
		}
		summaries = append(summaries, parsed.Summary)
	}

	return strings.Join(summaries, "\n"), nil
}

func chunkMessages(msgs []conversation.Message, size int) [][]conversation.Message {
	if size <= 0 {
		size = 30
	}
	var chunks [][]conversation.Message
	for start := 0; start < len(msgs); start += size {
		end := start + size
		if end > len(msgs) {
			end = len(msgs)
		}
		chunks = append(chunks, msgs[start:end])
	}
	return chunks
}

// validate parses the raw response and checks it against the required
// schema and the active vocabulary.
func (s *Service) validate(raw string, lib *sample.Library) (*llmResponse, *violation) {
	var resp llmResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, &violation{code: ErrCodeSchemaViolation, detail: fmt.Sprintf("not valid JSON: %v", err)}
	}
	if resp.LabelPrimary == "" {
		return nil, &violation{code: ErrCodeSchemaViolation, detail: "missing label_primary"}
	}
	if resp.Confidence == nil {
		return nil, &violation{code: ErrCodeSchemaViolation, detail: "missing confidence"}
	}
	if *resp.Confidence < 0 || *resp.Confidence > 1 {
		return nil, &violation{code: ErrCodeSchemaViolation, detail: fmt.Sprintf("confidence %g out of range", *resp.Confidence)}
	}
	if !lib.HasLabel(resp.LabelPrimary) {
		return nil, &violation{code: ErrCodeInvalidLabel, detail: fmt.Sprintf("label_primary %q not in vocabulary", resp.LabelPrimary)}
	}
	for _, l := range resp.LabelSecondary {
		if !lib.HasLabel(l) {
			return nil, &violation{code: ErrCodeInvalidLabel, detail: fmt.Sprintf("label_secondary %q not in vocabulary", l)}
		}
	}
	return &resp, nil
}

func (s *Service) recordFor(conversationID string, resp *llmResponse, matches []vector.Match, model string) *LabelRecord {
	status := StatusCompleted
	if *resp.Confidence < s.opts.ConfidenceThreshold {
		status = StatusNeedsReview
	}

	reasoning := resp.Reasoning
	if s.opts.ReasoningMaxChars > 0 && len(reasoning) > s.opts.ReasoningMaxChars {
		reasoning = reasoning[:s.opts.ReasoningMaxChars]
	}

	secondary := resp.LabelSecondary
	if secondary == nil {
		secondary = []string{}
	}

	return &LabelRecord{
		ConversationID:     conversationID,
		LabelPrimary:       resp.LabelPrimary,
		LabelSecondary:     secondary,
		Confidence:         *resp.Confidence,
		Reasoning:          reasoning,
		Summary:            resp.Summary,
		ReferenceSampleIDs: sampleIDs(matches),
		Status:             status,
		Source:             SourceModel,
		ModelVersion:       model,
		LabeledAt:          time.Now().UTC(),
	}
}

func sampleIDs(matches []vector.Match) []string {
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.SampleID
	}
	return ids
}
