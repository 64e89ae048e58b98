package classify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"casetriage/internal/domain"
	"casetriage/internal/integrations/llm"
)

type fakeCompleter struct {
	content string
	err     error
	calls   int
	lastReq llm.Request
}

func (f *fakeCompleter) Execute(_ context.Context, req llm.Request) (llm.Response, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return llm.Response{}, f.err
	}
	return llm.Response{Content: f.content, Provider: "fake"}, nil
}

var tribunal = domain.GlobalEmailSource{
	ID:             "tribunal-x",
	Name:           "Tribunalul X",
	Category:       "court",
	DomainPatterns: []string{"tribunal-*.ro"},
}

func twoCases() []domain.CandidateCase {
	return []domain.CandidateCase{
		{ID: "case-a", Title: "Popescu c. Ionescu", ReferenceNumbers: []string{"1234/3/2024"}},
		{ID: "case-b", Title: "Recuperare creanta Alfa SRL", ReferenceNumbers: []string{"999/1/2023"}},
	}
}

func TestClassifyNoCases(t *testing.T) {
	c := New(nil, domain.ClassificationThresholds{})
	res, err := c.Classify(context.Background(), Input{
		Communication: domain.Communication{ID: "m1", From: "x@y.ro", Subject: "Salut"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.NeedsHumanReview || res.SuggestedCaseID != nil {
		t.Fatalf("expected review without suggestion, got %+v", res)
	}
	if res.ReviewReason != "No active cases" {
		t.Fatalf("unexpected review reason %q", res.ReviewReason)
	}
}

func TestClassifySingleCase(t *testing.T) {
	ai := &fakeCompleter{content: `{"caseIndex": 1, "confidence": 0.2}`}
	c := New(ai, domain.ClassificationThresholds{})
	res, err := c.Classify(context.Background(), Input{
		Communication: domain.Communication{ID: "m1", From: "unknown@gmail.com", Subject: "Salut"},
		Cases:         []domain.CandidateCase{{ID: "only"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.CaseID() != "only" || res.Confidence != 1.0 || res.MatchType != domain.MatchActor || res.NeedsHumanReview {
		t.Fatalf("unexpected single-case result: %+v", res)
	}
	if ai.calls != 0 {
		t.Fatalf("single case must not call the AI backend, got %d calls", ai.calls)
	}
}

func TestClassifyInvalidCandidates(t *testing.T) {
	c := New(nil, domain.ClassificationThresholds{})
	tests := []struct {
		name  string
		cases []domain.CandidateCase
	}{
		{name: "duplicate ids", cases: []domain.CandidateCase{{ID: "a"}, {ID: "a"}}},
		{name: "empty id", cases: []domain.CandidateCase{{ID: "a"}, {ID: " "}}},
		{name: "single empty id", cases: []domain.CandidateCase{{ID: ""}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Classify(context.Background(), Input{Cases: tt.cases})
			if !errors.Is(err, ErrInvalidCandidates) {
				t.Fatalf("expected ErrInvalidCandidates, got %v", err)
			}
		})
	}
}

func TestClassifyGlobalSourceReferenceMatch(t *testing.T) {
	ai := &fakeCompleter{content: "not used"}
	c := New(ai, domain.ClassificationThresholds{})
	res, err := c.Classify(context.Background(), Input{
		Communication: domain.Communication{
			ID:      "m1",
			From:    `"Grefa" <grefier@tribunal-x.ro>`,
			Subject: "Citatie dosar nr. 1234/3/2024",
		},
		Cases:         twoCases(),
		GlobalSources: []domain.GlobalEmailSource{tribunal},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.MatchType != domain.MatchReference {
		t.Fatalf("expected reference match, got %s", res.MatchType)
	}
	if !res.IsGlobalSource || res.GlobalSourceName != "Tribunalul X" {
		t.Fatalf("expected global source, got %+v", res)
	}
	if res.Confidence < 0.95 {
		t.Fatalf("expected confidence >= 0.95, got %.2f", res.Confidence)
	}
	if res.NeedsHumanReview || res.IsUnknownSender {
		t.Fatalf("expected no review for known institutional sender, got %+v", res)
	}
	if res.CaseID() != "case-a" {
		t.Fatalf("expected case-a, got %q", res.CaseID())
	}
	if ai.calls != 0 {
		t.Fatalf("global sources never use the AI fallback, got %d calls", ai.calls)
	}
	if got := Decide(res, c.Thresholds()); got != DecisionAutoAssign {
		t.Fatalf("expected auto-assign, got %s", got)
	}
}

func TestClassifyGlobalSourceWithoutReferenceNeedsReview(t *testing.T) {
	c := New(nil, domain.ClassificationThresholds{})
	cases := twoCases()
	cases[0].Keywords = []string{"hotarare", "comunicare", "apel"}
	res, err := c.Classify(context.Background(), Input{
		Communication: domain.Communication{
			ID:          "m1",
			From:        "registratura@tribunal-x.ro",
			Subject:     "Comunicare hotarare",
			BodyPreview: "Va comunicam hotararea in apel",
		},
		Cases:         cases,
		GlobalSources: []domain.GlobalEmailSource{tribunal},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.NeedsHumanReview {
		t.Fatalf("expected review for institutional mail without reference, got %+v", res)
	}
	if !strings.Contains(res.ReviewReason, "Tribunalul X") {
		t.Fatalf("review reason should name the source, got %q", res.ReviewReason)
	}
	if res.MatchType != domain.MatchKeyword {
		t.Fatalf("expected keyword match type, got %s", res.MatchType)
	}
}

func TestClassifyUnknownSenderLowKeywordScore(t *testing.T) {
	c := New(nil, domain.ClassificationThresholds{})
	cases := twoCases()
	cases[1].Keywords = []string{"penalitati"}
	res, err := c.Classify(context.Background(), Input{
		Communication: domain.Communication{ID: "m1", From: "someone@gmail.com", Subject: "Intrebare despre penalitati"},
		Cases:         cases,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.NeedsHumanReview || !res.IsUnknownSender {
		t.Fatalf("expected review for unknown sender, got %+v", res)
	}
	if res.CaseID() != "case-b" || res.MatchType != domain.MatchKeyword {
		t.Fatalf("expected keyword suggestion for case-b, got %+v", res)
	}
	if !res.IsSuggestedAssignment {
		t.Fatalf("expected suggested assignment flag")
	}
}

func TestClassifyNonJSONAIReply(t *testing.T) {
	ai := &fakeCompleter{content: "I believe this belongs to the second case."}
	c := New(ai, domain.ClassificationThresholds{})
	res, err := c.Classify(context.Background(), Input{
		Communication: domain.Communication{ID: "m1", From: "nobody@example.com", Subject: "Buna ziua", BodyPreview: "Va rog sa ma sunati."},
		Cases:         twoCases(),
	})
	if err != nil {
		t.Fatalf("non-JSON reply must not fail classification: %v", err)
	}
	if ai.calls != 1 {
		t.Fatalf("expected one AI call, got %d", ai.calls)
	}
	if res.MatchType != domain.MatchNone || res.SuggestedCaseID != nil {
		t.Fatalf("expected deterministic result to stand, got %+v", res)
	}
	if !res.NeedsHumanReview {
		t.Fatalf("expected review")
	}
	if ai.lastReq.Model != llm.ModelFast || ai.lastReq.Temperature == nil || *ai.lastReq.Temperature != 0.1 {
		t.Fatalf("unexpected semantic request: %+v", ai.lastReq)
	}
	if !strings.Contains(ai.lastReq.Prompt, "2. Recuperare creanta Alfa SRL") {
		t.Fatalf("prompt should list numbered cases, got %q", ai.lastReq.Prompt)
	}
}

func TestClassifyAIErrorDegrades(t *testing.T) {
	ai := &fakeCompleter{err: llm.ErrAllProvidersUnavailable}
	c := New(ai, domain.ClassificationThresholds{})
	res, err := c.Classify(context.Background(), Input{
		Communication: domain.Communication{ID: "m1", From: "nobody@example.com", Subject: "Buna ziua"},
		Cases:         twoCases(),
	})
	if err != nil {
		t.Fatalf("provider failure must not fail classification: %v", err)
	}
	if !res.NeedsHumanReview || res.SuggestedCaseID != nil {
		t.Fatalf("expected degraded review result, got %+v", res)
	}
}

func TestClassifySemanticSignalChangesWinner(t *testing.T) {
	thresholds := domain.DefaultThresholds()
	thresholds.SemanticWeight = 0.5
	ai := &fakeCompleter{content: "```json\n{\"caseIndex\": 2, \"confidence\": 0.9, \"reasoning\": \"Mentions Alfa SRL debt\"}\n```"}
	c := New(ai, thresholds)
	cases := twoCases()
	cases[0].Keywords = []string{"factura"}
	res, err := c.Classify(context.Background(), Input{
		Communication: domain.Communication{ID: "m1", From: "contabil@alfa.ro", Subject: "Situatie factura restanta Alfa"},
		Cases:         cases,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.CaseID() != "case-b" || res.MatchType != domain.MatchSemantic {
		t.Fatalf("expected semantic win for case-b, got %+v", res)
	}
	if res.Confidence < 0.44 || res.Confidence > 0.46 {
		t.Fatalf("expected confidence 0.45, got %.3f", res.Confidence)
	}
	if len(res.Reasons) != 1 || !strings.Contains(res.Reasons[0], "Mentions Alfa SRL debt") {
		t.Fatalf("unexpected reasons %v", res.Reasons)
	}
}

func TestClassifyKnownActorWeakMatchIsSuggestion(t *testing.T) {
	c := New(nil, domain.ClassificationThresholds{})
	res, err := c.Classify(context.Background(), Input{
		Communication: domain.Communication{ID: "m1", From: "Client <client@firma.ro>", Subject: "Intrebare"},
		Cases:         twoCases(),
		Actors: map[string][]domain.CaseActor{
			"case-b": {{ID: "act-1", CaseID: "case-b", Name: "Ion Client", Role: "client", Emails: []string{"client@firma.ro"}}},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.NeedsHumanReview || res.IsUnknownSender {
		t.Fatalf("known sender weak match must not force review, got %+v", res)
	}
	if res.CaseID() != "case-b" || res.MatchType != domain.MatchActor || !res.IsSuggestedAssignment {
		t.Fatalf("expected actor suggestion, got %+v", res)
	}
	if got := Decide(res, c.Thresholds()); got != DecisionSuggest {
		t.Fatalf("expected suggestion, got %s", got)
	}
}

func TestClassifyAlternativeCase(t *testing.T) {
	c := New(nil, domain.ClassificationThresholds{})
	cases := []domain.CandidateCase{
		{ID: "case-a", Title: "Contract Beta", ReferenceNumbers: []string{"C-45/2023"}},
		{ID: "case-b", Title: "Notificari", Keywords: []string{"notificare", "penalitati"}, SubjectPatterns: []string{"*notificare*"}},
	}
	res, err := c.Classify(context.Background(), Input{
		Communication: domain.Communication{
			ID:          "m1",
			From:        "client@firma.ro",
			Subject:     "Raspuns notificare penalitati",
			BodyPreview: "<p>conform contract nr. C-45/2023</p>",
		},
		Cases: cases,
		Actors: map[string][]domain.CaseActor{
			"case-a": {{ID: "act-1", CaseID: "case-a", Name: "Beta", DomainPatterns: []string{"@firma.ro"}}},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.CaseID() != "case-a" || res.MatchType != domain.MatchReference {
		t.Fatalf("expected reference match on case-a, got %+v", res)
	}
	if res.Confidence < 0.69 || res.Confidence > 0.71 {
		t.Fatalf("expected confidence 0.7, got %.3f", res.Confidence)
	}
	if len(res.Reasons) != 2 {
		t.Fatalf("expected reference and actor reasons, got %v", res.Reasons)
	}
	if len(res.AlternativeCases) != 1 || res.AlternativeCases[0].CaseID != "case-b" {
		t.Fatalf("expected case-b alternative, got %+v", res.AlternativeCases)
	}
	if alt := res.AlternativeCases[0].Confidence; alt < 0.34 || alt > 0.36 {
		t.Fatalf("expected alternative confidence 0.35, got %.3f", alt)
	}
	if res.NeedsHumanReview || !res.IsSuggestedAssignment {
		t.Fatalf("unexpected flags %+v", res)
	}
}

func TestClassifyTieKeepsEarlierCase(t *testing.T) {
	c := New(nil, domain.ClassificationThresholds{})
	cases := []domain.CandidateCase{
		{ID: "first", Keywords: []string{"chirie"}},
		{ID: "second", Keywords: []string{"chirie"}},
	}
	res, err := c.Classify(context.Background(), Input{
		Communication: domain.Communication{ID: "m1", From: "a@b.ro", Subject: "Plata chirie"},
		Cases:         cases,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.CaseID() != "first" {
		t.Fatalf("expected tie to keep first case, got %q", res.CaseID())
	}
}

func TestDecide(t *testing.T) {
	id := "case-a"
	th := domain.DefaultThresholds()
	tests := []struct {
		name string
		res  domain.ClassificationResult
		want Decision
	}{
		{name: "confident", res: domain.ClassificationResult{SuggestedCaseID: &id, Confidence: 0.9}, want: DecisionAutoAssign},
		{name: "at threshold", res: domain.ClassificationResult{SuggestedCaseID: &id, Confidence: 0.85}, want: DecisionAutoAssign},
		{name: "flagged", res: domain.ClassificationResult{SuggestedCaseID: &id, Confidence: 0.95, NeedsHumanReview: true}, want: DecisionReview},
		{name: "weak", res: domain.ClassificationResult{SuggestedCaseID: &id, Confidence: 0.6}, want: DecisionSuggest},
		{name: "no case", res: domain.ClassificationResult{Confidence: 0.9}, want: DecisionSuggest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Decide(tt.res, th); got != tt.want {
				t.Fatalf("Decide() = %s, want %s", got, tt.want)
			}
		})
	}
}
