package classify

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"casetriage/internal/domain"
	"casetriage/internal/integrations/llm"
)

func batchFixture() BatchInput {
	cases := twoCases()
	cases[0].Keywords = []string{"termen"}
	return BatchInput{
		Communications: []domain.Communication{
			{ID: "auto", From: "grefier@tribunal-x.ro", Subject: "Citatie dosar nr. 1234/3/2024"},
			{ID: "suggest", From: "client@firma.ro", Subject: "Intrebare"},
			{ID: "review", From: "someone@gmail.com", Subject: "Amanare termen"},
			{ID: "nomatch", From: "spam@example.com", Subject: "Oferta speciala"},
		},
		Cases:         cases,
		GlobalSources: []domain.GlobalEmailSource{tribunal},
		Actors: map[string][]domain.CaseActor{
			"case-b": {{ID: "act-1", CaseID: "case-b", Emails: []string{"client@firma.ro"}}},
		},
	}
}

func TestBatchRunAggregates(t *testing.T) {
	b := NewBatch(New(nil, domain.ClassificationThresholds{}), DefaultPacing())
	res, err := b.Run(context.Background(), batchFixture())
	require.NoError(t, err)

	_, parseErr := uuid.Parse(res.RunID)
	require.NoError(t, parseErr)
	require.Len(t, res.Items, 4)
	require.Equal(t, 1, res.Unclassified)

	a := res.Summaries["case-a"]
	require.NotNil(t, a)
	require.Equal(t, 2, a.Total)
	require.Equal(t, 1, a.AutoClassified)
	require.Equal(t, 1, a.NeedsReview)

	bSum := res.Summaries["case-b"]
	require.NotNil(t, bSum)
	require.Equal(t, CaseSummary{CaseID: "case-b", Total: 1}, *bSum)

	require.Equal(t, DecisionAutoAssign, res.Items[0].Decision)
	require.Equal(t, DecisionSuggest, res.Items[1].Decision)
	require.Equal(t, DecisionReview, res.Items[2].Decision)
	require.Equal(t, DecisionReview, res.Items[3].Decision)
	require.False(t, res.FinishedAt.Before(res.StartedAt))
}

func TestBatchRunRecordsItemErrors(t *testing.T) {
	in := batchFixture()
	in.Cases = []domain.CandidateCase{{ID: "dup"}, {ID: "dup"}}
	b := NewBatch(New(nil, domain.ClassificationThresholds{}), DefaultPacing())

	res, err := b.Run(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, res.Items, len(in.Communications))
	require.Equal(t, len(in.Communications), res.Unclassified)
	for _, item := range res.Items {
		require.ErrorIs(t, item.Err, ErrInvalidCandidates)
	}
	require.Empty(t, res.Summaries)
}

func TestBatchRunPacesLargeBatches(t *testing.T) {
	in := batchFixture()
	b := NewBatch(New(nil, domain.ClassificationThresholds{}), Pacing{Delay: 25 * time.Millisecond, DelayAfter: 2})

	start := time.Now()
	res, err := b.Run(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, res.Items, 4)
	// First item passes immediately, each later one waits one interval.
	require.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestBatchRunSmallBatchIsNotPaced(t *testing.T) {
	b := NewBatch(New(nil, domain.ClassificationThresholds{}), Pacing{Delay: time.Second, DelayAfter: 10})

	start := time.Now()
	_, err := b.Run(context.Background(), batchFixture())
	require.NoError(t, err)
	require.Less(t, time.Since(start), 500*time.Millisecond)
}

type cancellingCompleter struct {
	cancel context.CancelFunc
	calls  int
}

func (c *cancellingCompleter) Execute(ctx context.Context, _ llm.Request) (llm.Response, error) {
	c.calls++
	c.cancel()
	return llm.Response{}, ctx.Err()
}

func TestBatchRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ai := &cancellingCompleter{cancel: cancel}

	in := batchFixture()
	// The first item now needs the semantic stage, which cancels the batch.
	in.Communications = append([]domain.Communication{{ID: "first", From: "x@example.com", Subject: "Salut"}}, in.Communications...)

	b := NewBatch(New(ai, domain.ClassificationThresholds{}), DefaultPacing())
	res, err := b.Run(ctx, in)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, res.Items, 1)
	require.Equal(t, "first", res.Items[0].Communication.ID)
	require.Equal(t, 1, ai.calls)
}

func TestBatchRunDeadlineShorterThanPacing(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	in := batchFixture()
	b := NewBatch(New(nil, domain.ClassificationThresholds{}), Pacing{Delay: time.Second, DelayAfter: 1})

	start := time.Now()
	res, err := b.Run(ctx, in)
	require.Error(t, err)
	require.Len(t, res.Items, 1)
	require.Equal(t, "auto", res.Items[0].Communication.ID)
	// The limiter gives up at once instead of sleeping into the deadline.
	require.Less(t, time.Since(start), 250*time.Millisecond)
	require.False(t, res.FinishedAt.IsZero())
}
