// Package sweep classifies the pending inbox on a schedule.
package sweep

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"casetriage/internal/classify"
	"casetriage/internal/domain"
	sqlitedb "casetriage/internal/storage/sqlite"
)

type Notifier interface {
	NotifyReview(ctx context.Context, comm domain.Communication, r domain.ClassificationResult) error
	NotifySweepSummary(ctx context.Context, res classify.BatchResult) error
}

type SourceProvider interface {
	Sources() []domain.GlobalEmailSource
}

// Result tracks separate counters for each outcome of one sweep.
type Result struct {
	RunID        string
	Pending      int
	Assigned     int
	Suggested    int
	Review       int
	Unclassified int
	Errors       []string
}

type Sweeper struct {
	db       *sql.DB
	batch    *classify.Batch
	sources  SourceProvider
	notifier Notifier
	limit    int
}

// New returns a Sweeper. notifier may be nil. limit caps the number of
// pending communications per sweep; zero means no cap.
func New(db *sql.DB, batch *classify.Batch, sources SourceProvider, notifier Notifier, limit int) *Sweeper {
	return &Sweeper{db: db, batch: batch, sources: sources, notifier: notifier, limit: limit}
}

func statusFor(d classify.Decision) string {
	switch d {
	case classify.DecisionAutoAssign:
		return sqlitedb.StatusAssigned
	case classify.DecisionReview:
		return sqlitedb.StatusReview
	default:
		return sqlitedb.StatusSuggested
	}
}

// RunSweep classifies pending communications against the active cases and
// records every result. Items whose classification failed stay pending.
func (s *Sweeper) RunSweep(ctx context.Context) (Result, error) {
	pending, err := sqlitedb.GetPendingCommunications(s.db, s.limit)
	if err != nil {
		return Result{}, fmt.Errorf("loading pending communications: %w", err)
	}
	result := Result{Pending: len(pending)}
	if len(pending) == 0 {
		return result, nil
	}

	cases, err := sqlitedb.GetActiveCases(s.db)
	if err != nil {
		return result, fmt.Errorf("loading active cases: %w", err)
	}
	actors, err := sqlitedb.GetActorsByCase(s.db)
	if err != nil {
		return result, fmt.Errorf("loading case actors: %w", err)
	}
	var globals []domain.GlobalEmailSource
	if s.sources != nil {
		globals = s.sources.Sources()
	}
	log.Printf("sweep start pending=%d cases=%d global_sources=%d", len(pending), len(cases), len(globals))

	batch, batchErr := s.batch.Run(ctx, classify.BatchInput{
		Communications: pending,
		Cases:          cases,
		GlobalSources:  globals,
		Actors:         actors,
	})
	result.RunID = batch.RunID
	result.Unclassified = batch.Unclassified

	for _, item := range batch.Items {
		if item.Err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", item.Communication.ID, item.Err))
			continue
		}
		status := statusFor(item.Decision)
		if err := sqlitedb.RecordClassification(s.db, batch.RunID, item.Communication.ID, item.Result, status); err != nil {
			log.Printf("sweep record error communication=%s: %v", item.Communication.ID, err)
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", item.Communication.ID, err))
			continue
		}
		switch status {
		case sqlitedb.StatusAssigned:
			result.Assigned++
		case sqlitedb.StatusReview:
			result.Review++
			if s.notifier != nil {
				if err := s.notifier.NotifyReview(ctx, item.Communication, item.Result); err != nil {
					log.Printf("sweep review notify error communication=%s: %v", item.Communication.ID, err)
				}
			}
		default:
			result.Suggested++
		}
	}

	if s.notifier != nil && len(batch.Items) > 0 {
		if err := s.notifier.NotifySweepSummary(ctx, batch); err != nil {
			log.Printf("sweep summary notify error: %v", err)
		}
	}

	if batchErr != nil {
		return result, fmt.Errorf("sweep interrupted after %d of %d communications: %w", len(batch.Items), len(pending), batchErr)
	}
	return result, nil
}

// FormatSweepSummary returns a human-readable summary of a Result.
func FormatSweepSummary(result Result) string {
	if result.Pending == 0 {
		return "No pending communications."
	}
	var parts []string
	parts = append(parts, fmt.Sprintf("%d assigned", result.Assigned))
	if result.Suggested > 0 {
		parts = append(parts, fmt.Sprintf("%d suggested", result.Suggested))
	}
	if result.Review > 0 {
		parts = append(parts, fmt.Sprintf("%d for review", result.Review))
	}
	if result.Unclassified > 0 {
		parts = append(parts, fmt.Sprintf("%d unclassified", result.Unclassified))
	}
	msg := fmt.Sprintf("Classified %d communication(s): %s", result.Pending, strings.Join(parts, ", "))
	if len(result.Errors) > 0 {
		msg += fmt.Sprintf("\nErrors:\n%s", strings.Join(result.Errors, "\n"))
	}
	return msg
}

// StartSweepScheduler runs RunSweep on a standard 5-field cron expression
// (minute hour day-of-month month day-of-week) until ctx is done. An empty
// schedule disables the scheduler.
func StartSweepScheduler(ctx context.Context, schedule string, loc *time.Location, s *Sweeper) error {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		log.Println("Sweep scheduler disabled (sweep_schedule not set)")
		return nil
	}
	if loc == nil {
		loc = time.Local
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(schedule)
	if err != nil {
		return fmt.Errorf("invalid sweep_schedule %q: %w", schedule, err)
	}
	log.Printf("Sweep scheduled (cron: %s)", schedule)

	go func() {
		for {
			now := time.Now().In(loc)
			next := sched.Next(now)
			wait := next.Sub(now)
			log.Printf("Next sweep at %s (in %s)", next.Format("Mon Jan 2 15:04"), wait.Round(time.Second))

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				log.Println("Sweep scheduler stopped")
				return
			case <-timer.C:
			}

			result, sweepErr := s.RunSweep(ctx)
			if sweepErr != nil {
				log.Printf("Sweep error: %v", sweepErr)
			}
			log.Printf("Sweep complete: %s", FormatSweepSummary(result))
		}
	}()
	return nil
}
