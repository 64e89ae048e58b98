// Package nudge reminds reviewers about communications still waiting in the
// review queue.
package nudge

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"casetriage/internal/storage/sqlite"
)

// Poster delivers a backlog reminder.
type Poster interface {
	PostReviewReminder(ctx context.Context, count int, oldest time.Time) error
}

var dayMap = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// StartReviewReminder posts the review backlog on the given day ("daily" or a
// weekday name) at clock (HH:MM) in loc. An empty day disables the reminder.
func StartReviewReminder(ctx context.Context, day, clock string, loc *time.Location, db *sql.DB, poster Poster) error {
	if day == "" {
		log.Println("No review_reminder_day configured, review reminder disabled")
		return nil
	}
	if poster == nil {
		log.Println("Slack is not configured, review reminder disabled")
		return nil
	}
	daily := strings.EqualFold(day, "daily")
	weekday, ok := dayMap[strings.ToLower(day)]
	if !daily && !ok {
		return fmt.Errorf("invalid review_reminder_day '%s'", day)
	}
	hour, min, err := parseTime(clock)
	if err != nil {
		return fmt.Errorf("invalid review_reminder_time '%s': %w", clock, err)
	}
	if loc == nil {
		loc = time.Local
	}

	if daily {
		log.Printf("Review reminder scheduled daily at %02d:%02d", hour, min)
	} else {
		log.Printf("Review reminder scheduled every %s at %02d:%02d", weekday, hour, min)
	}

	go func() {
		for {
			now := time.Now().In(loc)
			var next time.Time
			if daily {
				next = nextDaily(now, hour, min)
			} else {
				next = nextWeekday(now, weekday, hour, min)
			}
			wait := next.Sub(now)
			log.Printf("Next review reminder at %s (in %s)", next.Format("Mon Jan 2 15:04"), wait.Round(time.Minute))

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			if err := sendReminder(ctx, db, poster); err != nil {
				log.Printf("Review reminder error: %v", err)
			}
		}
	}()
	return nil
}

// sendReminder posts only when the backlog is not empty.
func sendReminder(ctx context.Context, db *sql.DB, poster Poster) error {
	count, oldest, err := sqlite.ReviewBacklog(db)
	if err != nil {
		return fmt.Errorf("loading review backlog: %w", err)
	}
	if count == 0 {
		log.Println("review reminder: backlog empty, nothing to post")
		return nil
	}
	if err := poster.PostReviewReminder(ctx, count, oldest); err != nil {
		return err
	}
	log.Printf("review reminder: posted count=%d oldest=%s", count, oldest.Format(time.RFC3339))
	return nil
}

func nextWeekday(now time.Time, day time.Weekday, hour, min int) time.Time {
	daysUntil := (day - now.Weekday() + 7) % 7
	if daysUntil == 0 {
		target := time.Date(now.Year(), now.Month(), now.Day(), hour, min, 0, 0, now.Location())
		if now.Before(target) {
			return target
		}
		daysUntil = 7
	}
	return time.Date(now.Year(), now.Month(), now.Day()+int(daysUntil), hour, min, 0, 0, now.Location())
}

func nextDaily(now time.Time, hour, min int) time.Time {
	target := time.Date(now.Year(), now.Month(), now.Day(), hour, min, 0, 0, now.Location())
	if now.Before(target) {
		return target
	}
	return target.AddDate(0, 0, 1)
}

func parseTime(s string) (int, int, error) {
	var hour, min int
	_, err := fmt.Sscanf(s, "%d:%d", &hour, &min)
	if err != nil {
		return 0, 0, err
	}
	if hour < 0 || hour > 23 || min < 0 || min > 59 {
		return 0, 0, fmt.Errorf("time out of range: %02d:%02d", hour, min)
	}
	return hour, min, nil
}
