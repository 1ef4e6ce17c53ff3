package labeler

import (
	"fmt"
	"strings"
	"time"

	"github.com/lumenware/triage/internal/conversation"
	"github.com/lumenware/triage/internal/vector"
)

const labelSystemPrompt = `You classify customer-support conversations. You are given reference samples labeled by humans and the transcript of a new conversation. Assign labels only from the allowed vocabulary. Always respond with a single JSON object and nothing else.`

const summarySystemPrompt = `You summarize customer-support conversation segments. Capture the customer's issue, any resolution steps, and the outcome in 2-3 sentences. Respond with a JSON object: {"summary": "..."}.`

// buildLabelPrompt assembles the user prompt: metadata, reference samples
// (or an explicit none marker), the transcript, and output instructions
// naming the closed vocabulary.
func buildLabelPrompt(convo *conversation.Conversation, transcript string, matches []vector.Match, vocabulary []string) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Conversation id: %s\n", convo.ID)
	fmt.Fprintf(&sb, "Opened at: %s\n", convo.CreatedAt.UTC().Format(time.RFC3339))
	if convo.ClosedAt != nil {
		fmt.Fprintf(&sb, "Closed at: %s\n", convo.ClosedAt.UTC().Format(time.RFC3339))
	}

	sb.WriteString("\nReference samples:\n")
	if len(matches) == 0 {
		sb.WriteString("(no reference samples available)\n")
	} else {
		for i, m := range matches {
			summary := m.Summary
			if summary == "" {
				summary = m.Snippet
			}
			fmt.Fprintf(&sb, "Sample %d: label=%s, similarity=%.3f, summary=%s\n", i+1, m.Label, m.Score, summary)
		}
	}

	sb.WriteString("\nTranscript:\n---\n")
	sb.WriteString(transcript)
	sb.WriteString("---\n\n")

	fmt.Fprintf(&sb, "Allowed labels: %s\n", strings.Join(vocabulary, ", "))
	sb.WriteString(`Respond with JSON matching this schema exactly:
{
  "label_primary": "one allowed label",
  "label_secondary": ["zero or more allowed labels"],
  "confidence": 0.0-1.0,
  "reasoning": "short justification",
  "summary": "one-paragraph summary of the conversation"
}
Every label must come from the allowed list. Return ONLY the JSON object.`)

	return sb.String()
}

func buildSummaryPrompt(chunkIdx, chunkCount int, transcript string) string {
	return fmt.Sprintf("Segment %d of %d of a longer support conversation:\n---\n%s---\nSummarize this segment.", chunkIdx+1, chunkCount, transcript)
}
