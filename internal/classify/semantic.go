package classify

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"casetriage/internal/domain"
)

const (
	semanticTemperature   = 0.1
	semanticMaxTokens     = 400
	maxPromptPreviewChars = 1500
	maxPromptFieldChars   = 300
)

const semanticSystemPrompt = `You route inbound correspondence of a law firm to the legal case it belongs to.
You get one email and a numbered list of candidate cases.
Pick the single most likely case, or null if none fits.

Respond with JSON only (no markdown):
{"caseIndex": 2, "confidence": 0.74, "reasoning": "one short sentence"}`

func buildSemanticPrompt(comm domain.Communication, preview string, cases []domain.CandidateCase) string {
	var b strings.Builder
	b.WriteString("Email:\n")
	b.WriteString(fmt.Sprintf("From: %s\n", strings.TrimSpace(comm.From)))
	b.WriteString(fmt.Sprintf("Subject: %s\n", strings.TrimSpace(comm.Subject)))
	b.WriteString(fmt.Sprintf("Preview: %s\n", truncate(preview, maxPromptPreviewChars)))
	b.WriteString("\nCandidate cases:\n")
	for i, c := range cases {
		b.WriteString(fmt.Sprintf("%d. %s\n", i+1, strings.TrimSpace(c.Title)))
		if d := strings.TrimSpace(c.Description); d != "" {
			b.WriteString(fmt.Sprintf("   Description: %s\n", truncate(d, maxPromptFieldChars)))
		}
		if len(c.Keywords) > 0 {
			b.WriteString(fmt.Sprintf("   Keywords: %s\n", strings.Join(c.Keywords, ", ")))
		}
		if n := strings.TrimSpace(c.ClassificationNotes); n != "" {
			b.WriteString(fmt.Sprintf("   Notes: %s\n", truncate(n, maxPromptFieldChars)))
		}
	}
	return b.String()
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// semanticOutcome is either semanticMatch or noSemanticSignal.
type semanticOutcome interface {
	isSemanticOutcome()
}

type semanticMatch struct {
	caseIndex  int // zero-based
	confidence float64
	reasoning  string
}

type noSemanticSignal struct {
	reason string
}

func (semanticMatch) isSemanticOutcome()    {}
func (noSemanticSignal) isSemanticOutcome() {}

type semanticReply struct {
	CaseIndex  *float64 `json:"caseIndex"`
	Confidence *float64 `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
}

// parseSemanticReply validates the model reply against the JSON contract.
// Anything that does not fit maps to noSemanticSignal.
func parseSemanticReply(responseText string, caseCount int) semanticOutcome {
	responseText = strings.TrimSpace(responseText)
	responseText = strings.TrimPrefix(responseText, "```json")
	responseText = strings.TrimPrefix(responseText, "```")
	responseText = strings.TrimSuffix(responseText, "```")
	responseText = strings.TrimSpace(responseText)

	var reply semanticReply
	if err := json.Unmarshal([]byte(responseText), &reply); err != nil {
		return noSemanticSignal{reason: fmt.Sprintf("unparseable reply: %v", err)}
	}
	if reply.CaseIndex == nil {
		return noSemanticSignal{reason: "no case selected"}
	}
	idx := *reply.CaseIndex
	if idx != math.Trunc(idx) || idx < 1 || int(idx) > caseCount {
		return noSemanticSignal{reason: fmt.Sprintf("case index %v out of range", idx)}
	}
	if reply.Confidence == nil {
		return noSemanticSignal{reason: "missing confidence"}
	}
	conf := *reply.Confidence
	if math.IsNaN(conf) || conf < 0 || conf > 1 {
		return noSemanticSignal{reason: fmt.Sprintf("confidence %v out of range", conf)}
	}
	return semanticMatch{
		caseIndex:  int(idx) - 1,
		confidence: conf,
		reasoning:  strings.TrimSpace(reply.Reasoning),
	}
}
