package domain

import "time"

// Communication is one inbound email waiting to be routed to a case.
type Communication struct {
	ID          string
	Subject     string
	BodyPreview string
	From        string
	ReceivedAt  time.Time
}

type CandidateCase struct {
	ID                  string
	Title               string
	Description         string
	Keywords            []string
	ReferenceNumbers    []string
	SubjectPatterns     []string
	ClassificationNotes string
}

type CaseActor struct {
	ID             string
	CaseID         string
	Name           string
	Role           string
	Emails         []string
	DomainPatterns []string
}

// GlobalEmailSource is an institutional sender (court, authority) that is
// never a case actor.
type GlobalEmailSource struct {
	ID             string   `yaml:"id"`
	Name           string   `yaml:"name"`
	Category       string   `yaml:"category"`
	Emails         []string `yaml:"emails"`
	DomainPatterns []string `yaml:"domain_patterns"`
}

type ReferenceType string

const (
	ReferenceCourtFile ReferenceType = "court_file"
	ReferenceContract  ReferenceType = "contract"
	ReferenceInvoice   ReferenceType = "invoice"
	ReferenceUnknown   ReferenceType = "unknown"
)

type ExtractedReference struct {
	Type       ReferenceType
	RawValue   string
	Normalized string
	Position   int
}
