package domain

import "time"

type MatchType string

const (
	MatchNone      MatchType = "none"
	MatchActor     MatchType = "actor"
	MatchReference MatchType = "reference"
	MatchKeyword   MatchType = "keyword"
	MatchSemantic  MatchType = "semantic"
)

type AlternativeCase struct {
	CaseID     string
	Confidence float64
	Reason     string
}

// ClassificationResult is built once per classified communication and not
// mutated afterwards.
type ClassificationResult struct {
	SuggestedCaseID       *string
	Confidence            float64
	Reasons               []string
	AlternativeCases      []AlternativeCase
	MatchType             MatchType
	NeedsHumanReview      bool
	ReviewReason          string
	IsSuggestedAssignment bool
	IsUnknownSender       bool
	ExtractedReferences   []ExtractedReference
	IsGlobalSource        bool
	GlobalSourceName      string
}

// CaseID returns the suggested case or "" when there is none.
func (r ClassificationResult) CaseID() string {
	if r.SuggestedCaseID == nil {
		return ""
	}
	return *r.SuggestedCaseID
}

// ClassificationThresholds holds the scoring weights and decision cut-offs.
type ClassificationThresholds struct {
	AutoAssign           float64 `yaml:"auto_assign"`
	NeedsReview          float64 `yaml:"needs_review"`
	ActorMatchWeight     float64 `yaml:"actor_match_weight"`
	ReferenceMatchWeight float64 `yaml:"reference_match_weight"`
	KeywordMatchWeight   float64 `yaml:"keyword_match_weight"`
	SemanticWeight       float64 `yaml:"semantic_weight"`
}

func DefaultThresholds() ClassificationThresholds {
	return ClassificationThresholds{
		AutoAssign:           0.85,
		NeedsReview:          0.5,
		ActorMatchWeight:     0.4,
		ReferenceMatchWeight: 0.3,
		KeywordMatchWeight:   0.2,
		SemanticWeight:       0.1,
	}
}

type ClassificationRecord struct {
	ID               int64
	RunID            string
	CommunicationID  string
	SuggestedCaseID  string
	Confidence       float64
	MatchType        MatchType
	NeedsHumanReview bool
	ReviewReason     string
	IsGlobalSource   bool
	GlobalSourceName string
	References       string
	Reasons          string
	ClassifiedAt     time.Time
}

type ClassificationStats struct {
	TotalClassifications int
	NeedsReview          int
	AvgConfidence        float64
	BucketBelow50        int
	Bucket50to70         int
	Bucket70to90         int
	Bucket90Plus         int
}
