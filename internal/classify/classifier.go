// Package classify routes inbound communications to candidate cases: cheap
// deterministic signals first, an AI judgement only when they are too weak.
package classify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"

	"casetriage/internal/domain"
	"casetriage/internal/integrations/llm"
	"casetriage/internal/mailtext"
	"casetriage/internal/reference"
)

const (
	globalReferenceScore = 0.95
	keywordHitScore      = 0.1
	subjectPatternBonus  = 0.15
	suggestionCutoff     = 0.8
)

var ErrInvalidCandidates = errors.New("invalid candidate cases")

// Completer is the AI call the semantic stage depends on; *llm.Manager
// satisfies it.
type Completer interface {
	Execute(ctx context.Context, req llm.Request) (llm.Response, error)
}

type Input struct {
	Communication domain.Communication
	Cases         []domain.CandidateCase
	GlobalSources []domain.GlobalEmailSource
	// Actors maps case ID to the actors of that case.
	Actors map[string][]domain.CaseActor
}

type Classifier struct {
	ai         Completer
	thresholds domain.ClassificationThresholds
}

// New returns a Classifier. ai may be nil, in which case the semantic stage
// never runs. Zero thresholds select the defaults.
func New(ai Completer, thresholds domain.ClassificationThresholds) *Classifier {
	if thresholds == (domain.ClassificationThresholds{}) {
		thresholds = domain.DefaultThresholds()
	}
	return &Classifier{ai: ai, thresholds: thresholds}
}

func (c *Classifier) Thresholds() domain.ClassificationThresholds {
	return c.thresholds
}

type caseScore struct {
	index     int
	caseID    string
	score     float64
	reasons   []string
	matchType domain.MatchType
}

func (s *caseScore) add(points float64, matchType domain.MatchType, reason string) {
	s.score += points
	s.reasons = append(s.reasons, reason)
	if s.matchType == domain.MatchNone {
		s.matchType = matchType
	}
}

// Classify scores one communication against the candidate cases. It only
// returns an error for a malformed candidate list; AI failures degrade to a
// deterministic-only result.
func (c *Classifier) Classify(ctx context.Context, in Input) (domain.ClassificationResult, error) {
	switch len(in.Cases) {
	case 0:
		return domain.ClassificationResult{
			MatchType:        domain.MatchNone,
			NeedsHumanReview: true,
			ReviewReason:     "No active cases",
			IsUnknownSender:  true,
			Reasons:          []string{"No active cases to match against"},
		}, nil
	case 1:
		only := in.Cases[0]
		if strings.TrimSpace(only.ID) == "" {
			return domain.ClassificationResult{}, fmt.Errorf("%w: case without id", ErrInvalidCandidates)
		}
		id := only.ID
		return domain.ClassificationResult{
			SuggestedCaseID: &id,
			Confidence:      1.0,
			MatchType:       domain.MatchActor,
			Reasons:         []string{"Only one active case"},
		}, nil
	}
	if err := validateCandidates(in.Cases); err != nil {
		return domain.ClassificationResult{}, err
	}

	comm := in.Communication
	address := senderAddress(comm.From)
	preview := mailtext.Plain(comm.BodyPreview)
	text := strings.TrimSpace(comm.Subject + " " + preview)
	lowerText := strings.ToLower(text)

	result := domain.ClassificationResult{MatchType: domain.MatchNone}

	senderKnown := false
	for _, src := range in.GlobalSources {
		if senderMatches(address, src.Emails, src.DomainPatterns) {
			result.IsGlobalSource = true
			result.GlobalSourceName = src.Name
			senderKnown = true
			break
		}
	}

	refs := reference.Extract(text)
	result.ExtractedReferences = refs

	scores := make([]*caseScore, len(in.Cases))
	for i, cc := range in.Cases {
		s := &caseScore{index: i, caseID: cc.ID, matchType: domain.MatchNone}
		scores[i] = s

		if matches := reference.Match(refs, cc.ReferenceNumbers); len(matches) > 0 {
			points := c.thresholds.ReferenceMatchWeight
			if result.IsGlobalSource {
				points = globalReferenceScore
			}
			s.add(points, domain.MatchReference, fmt.Sprintf("Reference number %s matches case", matches[0].Reference.Normalized))
		}

		if !result.IsGlobalSource {
			for _, actor := range in.Actors[cc.ID] {
				if senderMatches(address, actor.Emails, actor.DomainPatterns) {
					s.add(c.thresholds.ActorMatchWeight, domain.MatchActor, actorReason(actor))
					senderKnown = true
					break
				}
			}
		}

		if hits := keywordHits(lowerText, cc.Keywords); len(hits) > 0 {
			points := math.Min(float64(len(hits))*keywordHitScore, c.thresholds.KeywordMatchWeight)
			s.add(points, domain.MatchKeyword, fmt.Sprintf("Matched %d keyword(s): %s", len(hits), strings.Join(hits, ", ")))
		}

		if pattern, ok := firstSubjectPattern(comm.Subject, cc.SubjectPatterns); ok {
			s.add(subjectPatternBonus, domain.MatchKeyword, fmt.Sprintf("Subject matches pattern %q", pattern))
		}
	}

	best, second := rankScores(scores)

	if best.score < c.thresholds.NeedsReview && !result.IsGlobalSource && c.ai != nil {
		if c.applySemantic(ctx, comm, preview, in.Cases, scores) {
			best, second = rankScores(scores)
		}
	}

	result.Confidence = math.Min(best.score, 1.0)
	if best.score > 0 {
		id := best.caseID
		result.SuggestedCaseID = &id
		result.Reasons = append([]string(nil), best.reasons...)
		result.MatchType = best.matchType
	}
	if second != nil && second.score > 0 && second.score >= c.thresholds.NeedsReview/2 {
		result.AlternativeCases = []domain.AlternativeCase{{
			CaseID:     second.caseID,
			Confidence: math.Min(second.score, 1.0),
			Reason:     strings.Join(second.reasons, "; "),
		}}
	}
	result.IsSuggestedAssignment = result.Confidence < suggestionCutoff
	result.IsUnknownSender = !senderKnown

	c.triage(&result, best.score > 0)

	log.Printf("classify communication=%s case=%s confidence=%.2f match=%s global=%t unknown_sender=%t review=%t",
		comm.ID, result.CaseID(), result.Confidence, result.MatchType, result.IsGlobalSource, result.IsUnknownSender, result.NeedsHumanReview)
	return result, nil
}

func validateCandidates(cases []domain.CandidateCase) error {
	seen := make(map[string]bool, len(cases))
	for i, cc := range cases {
		id := strings.TrimSpace(cc.ID)
		if id == "" {
			return fmt.Errorf("%w: case at position %d has no id", ErrInvalidCandidates, i)
		}
		if seen[id] {
			return fmt.Errorf("%w: duplicate case id %q", ErrInvalidCandidates, id)
		}
		seen[id] = true
	}
	return nil
}

func actorReason(actor domain.CaseActor) string {
	name := strings.TrimSpace(actor.Name)
	if name == "" {
		name = actor.ID
	}
	if role := strings.TrimSpace(actor.Role); role != "" {
		return fmt.Sprintf("Sender matches case actor %s (%s)", name, role)
	}
	return fmt.Sprintf("Sender matches case actor %s", name)
}

// rankScores returns the top two scores. Replacement needs a strictly higher
// score, so equal scores keep the earlier case.
func rankScores(scores []*caseScore) (best, second *caseScore) {
	for _, s := range scores {
		switch {
		case best == nil || s.score > best.score:
			second = best
			best = s
		case second == nil || s.score > second.score:
			second = s
		}
	}
	return best, second
}

// applySemantic asks the AI backend for the most likely case and folds its
// confidence into that case's score. It reports whether any score changed.
func (c *Classifier) applySemantic(ctx context.Context, comm domain.Communication, preview string, cases []domain.CandidateCase, scores []*caseScore) bool {
	temp := semanticTemperature
	resp, err := c.ai.Execute(ctx, llm.Request{
		SystemPrompt: semanticSystemPrompt,
		Prompt:       buildSemanticPrompt(comm, preview, cases),
		Model:        llm.ModelFast,
		MaxTokens:    semanticMaxTokens,
		Temperature:  &temp,
	})
	if err != nil {
		log.Printf("classify semantic fallback unavailable communication=%s err=%v", comm.ID, err)
		return false
	}

	switch outcome := parseSemanticReply(resp.Content, len(cases)).(type) {
	case semanticMatch:
		s := scores[outcome.caseIndex]
		s.score += outcome.confidence * c.thresholds.SemanticWeight
		reason := fmt.Sprintf("AI analysis (%s, confidence %.2f)", resp.Provider, outcome.confidence)
		if outcome.reasoning != "" {
			reason += ": " + outcome.reasoning
		}
		s.reasons = append(s.reasons, reason)
		s.matchType = domain.MatchSemantic
		return true
	case noSemanticSignal:
		log.Printf("classify semantic fallback no signal communication=%s provider=%s reason=%s", comm.ID, resp.Provider, outcome.reason)
	}
	return false
}

// triage sets the human-review flag. Only unresolved sender identity forces
// review; a known sender's weak match stays a suggestion.
func (c *Classifier) triage(result *domain.ClassificationResult, matchedCase bool) {
	switch {
	case result.IsGlobalSource && len(result.ExtractedReferences) == 0:
		result.NeedsHumanReview = true
		result.ReviewReason = fmt.Sprintf("Institutional sender %s without a reference number", result.GlobalSourceName)
	case result.IsUnknownSender && !matchedCase:
		result.NeedsHumanReview = true
		result.ReviewReason = "Unknown sender and no matching case"
	case result.IsUnknownSender && result.Confidence < c.thresholds.NeedsReview:
		result.NeedsHumanReview = true
		result.ReviewReason = fmt.Sprintf("Unknown sender with low confidence (%.2f)", result.Confidence)
	}
}
