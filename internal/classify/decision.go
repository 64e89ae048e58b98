package classify

import "casetriage/internal/domain"

type Decision string

const (
	DecisionAutoAssign Decision = "auto_assign"
	DecisionReview     Decision = "review"
	DecisionSuggest    Decision = "suggest"
)

// Decide maps a result onto the caller action: auto-assign only confident
// results that triage did not flag, queue flagged ones, and offer the rest as
// suggestions.
func Decide(r domain.ClassificationResult, t domain.ClassificationThresholds) Decision {
	switch {
	case r.NeedsHumanReview:
		return DecisionReview
	case r.SuggestedCaseID != nil && r.Confidence >= t.AutoAssign:
		return DecisionAutoAssign
	default:
		return DecisionSuggest
	}
}

func (c *Classifier) Decide(r domain.ClassificationResult) Decision {
	return Decide(r, c.thresholds)
}
