// Package slackbot posts triage results to a Slack review channel.
package slackbot

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"

	"casetriage/internal/classify"
	"casetriage/internal/domain"
)

const maxSummaryCases = 10

// Notifier posts to a single channel. Reviewer identifiers are resolved to
// user IDs on first use.
type Notifier struct {
	api       *slack.Client
	channelID string
	reviewers []string

	cache        userCache
	resolveOnce  sync.Once
	reviewerTags string
}

func NewNotifier(api *slack.Client, channelID string, reviewers []string) *Notifier {
	return &Notifier{api: api, channelID: channelID, reviewers: reviewers}
}

func (n *Notifier) mentions(ctx context.Context) string {
	n.resolveOnce.Do(func() {
		if len(n.reviewers) == 0 {
			return
		}
		ids, unresolved, err := resolveUserIDs(ctx, n.api, &n.cache, n.reviewers)
		if err != nil {
			log.Printf("slack reviewers partially resolved: %v", err)
		}
		if len(unresolved) > 0 {
			log.Printf("slack reviewers not found: %s", strings.Join(unresolved, ", "))
		}
		tags := make([]string, 0, len(ids))
		for _, id := range ids {
			tags = append(tags, fmt.Sprintf("<@%s>", id))
		}
		n.reviewerTags = strings.Join(tags, " ")
	})
	return n.reviewerTags
}

// NotifyReview posts one communication that needs human triage.
func (n *Notifier) NotifyReview(ctx context.Context, comm domain.Communication, r domain.ClassificationResult) error {
	text := reviewText(comm, r)
	blocks := []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil),
	}
	if details := reviewDetails(r); details != "" {
		blocks = append(blocks, slack.NewContextBlock("",
			slack.NewTextBlockObject(slack.MarkdownType, details, false, false),
		))
	}
	if tags := n.mentions(ctx); tags != "" {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, "cc "+tags, false, false), nil, nil,
		))
	}

	_, _, err := n.api.PostMessageContext(ctx, n.channelID,
		slack.MsgOptionText(fmt.Sprintf("Needs review: %s", comm.Subject), false),
		slack.MsgOptionBlocks(blocks...),
	)
	if err != nil {
		return fmt.Errorf("posting review for %s: %w", comm.ID, err)
	}
	log.Printf("slack review posted communication=%s channel=%s", comm.ID, n.channelID)
	return nil
}

func reviewText(comm domain.Communication, r domain.ClassificationResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Needs review:* %s\n", escape(comm.Subject))
	fmt.Fprintf(&b, "From: %s\n", escape(comm.From))
	if r.ReviewReason != "" {
		fmt.Fprintf(&b, "Reason: %s\n", escape(r.ReviewReason))
	}
	if id := r.CaseID(); id != "" {
		fmt.Fprintf(&b, "Suggested case: `%s` (%.0f%%, %s)", id, r.Confidence*100, r.MatchType)
	} else {
		b.WriteString("No case suggestion")
	}
	return b.String()
}

func reviewDetails(r domain.ClassificationResult) string {
	var parts []string
	if r.IsGlobalSource {
		parts = append(parts, "Institutional sender: "+escape(r.GlobalSourceName))
	}
	if len(r.ExtractedReferences) > 0 {
		refs := make([]string, 0, len(r.ExtractedReferences))
		for _, ref := range r.ExtractedReferences {
			refs = append(refs, ref.Normalized)
		}
		parts = append(parts, "References: "+strings.Join(refs, ", "))
	}
	for _, alt := range r.AlternativeCases {
		parts = append(parts, fmt.Sprintf("Alternative: `%s` (%.0f%%)", alt.CaseID, alt.Confidence*100))
	}
	return strings.Join(parts, " | ")
}

// NotifySweepSummary posts the per-case totals of one batch run.
func (n *Notifier) NotifySweepSummary(ctx context.Context, res classify.BatchResult) error {
	text := summaryText(res)
	_, _, err := n.api.PostMessageContext(ctx, n.channelID, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("posting sweep summary: %w", err)
	}
	return nil
}

func summaryText(res classify.BatchResult) string {
	summaries := make([]*classify.CaseSummary, 0, len(res.Summaries))
	for _, s := range res.Summaries {
		summaries = append(summaries, s)
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].Total != summaries[j].Total {
			return summaries[i].Total > summaries[j].Total
		}
		return summaries[i].CaseID < summaries[j].CaseID
	})

	var b strings.Builder
	fmt.Fprintf(&b, "Triage sweep %s: %d communication(s), %d unclassified\n", shortRunID(res.RunID), len(res.Items), res.Unclassified)
	for i, s := range summaries {
		if i == maxSummaryCases {
			fmt.Fprintf(&b, "...and %d more case(s)\n", len(summaries)-maxSummaryCases)
			break
		}
		fmt.Fprintf(&b, "• %s: %d total, %d auto, %d review\n", s.CaseID, s.Total, s.AutoClassified, s.NeedsReview)
	}
	return strings.TrimRight(b.String(), "\n")
}

// PostReviewReminder posts the size and age of the review queue.
func (n *Notifier) PostReviewReminder(ctx context.Context, count int, oldest time.Time) error {
	text := fmt.Sprintf("%d communication(s) are waiting for review. Oldest received %s.",
		count, oldest.Format("Mon Jan 2 15:04"))
	if tags := n.mentions(ctx); tags != "" {
		text += " cc " + tags
	}
	if _, _, err := n.api.PostMessageContext(ctx, n.channelID, slack.MsgOptionText(text, false)); err != nil {
		return fmt.Errorf("posting review reminder: %w", err)
	}
	return nil
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

var slackEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escape(s string) string {
	return slackEscaper.Replace(strings.TrimSpace(s))
}
