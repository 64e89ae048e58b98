package classify

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"casetriage/internal/domain"
)

const (
	defaultBatchDelay      = 500 * time.Millisecond
	defaultBatchDelayAfter = 10
)

// Pacing spaces batch items once a batch holds more than DelayAfter items.
type Pacing struct {
	Delay      time.Duration
	DelayAfter int
}

func DefaultPacing() Pacing {
	return Pacing{Delay: defaultBatchDelay, DelayAfter: defaultBatchDelayAfter}
}

type BatchInput struct {
	Communications []domain.Communication
	Cases          []domain.CandidateCase
	GlobalSources  []domain.GlobalEmailSource
	Actors         map[string][]domain.CaseActor
}

type BatchItem struct {
	Communication domain.Communication
	Result        domain.ClassificationResult
	Decision      Decision
	Err           error
}

type CaseSummary struct {
	CaseID         string
	Total          int
	AutoClassified int
	NeedsReview    int
}

type BatchResult struct {
	RunID        string
	Items        []BatchItem
	Summaries    map[string]*CaseSummary
	Unclassified int
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Batch classifies communications one at a time against a shared candidate
// set.
type Batch struct {
	classifier *Classifier
	pacing     Pacing
}

func NewBatch(classifier *Classifier, pacing Pacing) *Batch {
	if pacing.DelayAfter <= 0 {
		pacing.DelayAfter = defaultBatchDelayAfter
	}
	if pacing.Delay < 0 {
		pacing.Delay = 0
	}
	return &Batch{classifier: classifier, pacing: pacing}
}

// Run processes the batch sequentially. If ctx ends mid-batch, or its
// deadline leaves no room for the next paced item, the items classified so
// far are returned with a non-nil error.
func (b *Batch) Run(ctx context.Context, in BatchInput) (BatchResult, error) {
	res := BatchResult{
		RunID:     uuid.NewString(),
		Summaries: make(map[string]*CaseSummary),
		StartedAt: time.Now(),
	}

	var limiter *rate.Limiter
	if len(in.Communications) > b.pacing.DelayAfter && b.pacing.Delay > 0 {
		limiter = rate.NewLimiter(rate.Every(b.pacing.Delay), 1)
	}

	thresholds := b.classifier.Thresholds()
	for _, comm := range in.Communications {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				res.FinishedAt = time.Now()
				log.Printf("batch run=%s stopped after %d/%d items: %v", res.RunID, len(res.Items), len(in.Communications), err)
				return res, fmt.Errorf("batch pacing: %w", err)
			}
		} else if err := ctx.Err(); err != nil {
			res.FinishedAt = time.Now()
			log.Printf("batch run=%s stopped after %d/%d items: %v", res.RunID, len(res.Items), len(in.Communications), err)
			return res, err
		}

		result, err := b.classifier.Classify(ctx, Input{
			Communication: comm,
			Cases:         in.Cases,
			GlobalSources: in.GlobalSources,
			Actors:        in.Actors,
		})
		item := BatchItem{Communication: comm, Result: result, Err: err}
		if err != nil {
			log.Printf("batch run=%s communication=%s error: %v", res.RunID, comm.ID, err)
			res.Unclassified++
			res.Items = append(res.Items, item)
			continue
		}
		item.Decision = Decide(result, thresholds)
		res.Items = append(res.Items, item)

		caseID := result.CaseID()
		if caseID == "" {
			res.Unclassified++
			continue
		}
		summary := res.Summaries[caseID]
		if summary == nil {
			summary = &CaseSummary{CaseID: caseID}
			res.Summaries[caseID] = summary
		}
		summary.Total++
		switch item.Decision {
		case DecisionAutoAssign:
			summary.AutoClassified++
		case DecisionReview:
			summary.NeedsReview++
		}
	}

	res.FinishedAt = time.Now()
	log.Printf("batch run=%s items=%d cases=%d unclassified=%d took=%s",
		res.RunID, len(res.Items), len(res.Summaries), res.Unclassified, res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))
	return res, nil
}
