package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"casetriage/internal/domain"
)

const (
	CaseActive = "active"
	CaseClosed = "closed"

	StatusPending   = "pending"
	StatusAssigned  = "assigned"
	StatusSuggested = "suggested"
	StatusReview    = "review"
)

func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS cases (
		id                   TEXT PRIMARY KEY,
		title                TEXT NOT NULL,
		description          TEXT DEFAULT '',
		keywords             TEXT DEFAULT '[]',
		reference_numbers    TEXT DEFAULT '[]',
		subject_patterns     TEXT DEFAULT '[]',
		classification_notes TEXT DEFAULT '',
		status               TEXT DEFAULT 'active',
		created_at           DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_cases_status ON cases(status);

	CREATE TABLE IF NOT EXISTS case_actors (
		id              TEXT PRIMARY KEY,
		case_id         TEXT NOT NULL,
		name            TEXT DEFAULT '',
		role            TEXT DEFAULT '',
		emails          TEXT DEFAULT '[]',
		domain_patterns TEXT DEFAULT '[]'
	);
	CREATE INDEX IF NOT EXISTS idx_case_actors_case ON case_actors(case_id);

	CREATE TABLE IF NOT EXISTS communications (
		id               TEXT PRIMARY KEY,
		subject          TEXT DEFAULT '',
		body_preview     TEXT DEFAULT '',
		sender           TEXT NOT NULL,
		received_at      DATETIME NOT NULL,
		status           TEXT DEFAULT 'pending',
		assigned_case_id TEXT DEFAULT '',
		created_at       DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_communications_status ON communications(status);

	CREATE TABLE IF NOT EXISTS classification_history (
		id                 INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id             TEXT NOT NULL,
		communication_id   TEXT NOT NULL,
		suggested_case_id  TEXT DEFAULT '',
		confidence         REAL NOT NULL,
		match_type         TEXT NOT NULL,
		needs_review       INTEGER NOT NULL DEFAULT 0,
		review_reason      TEXT DEFAULT '',
		is_global_source   INTEGER NOT NULL DEFAULT 0,
		global_source_name TEXT DEFAULT '',
		refs               TEXT DEFAULT '',
		reasons            TEXT DEFAULT '',
		classified_at      DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_ch_communication ON classification_history(communication_id);
	CREATE INDEX IF NOT EXISTS idx_ch_date ON classification_history(classified_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func encodeList(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(values)
	return string(b)
}

func decodeList(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decoding list column: %w", err)
	}
	return out, nil
}

// --- Cases ---

func UpsertCase(db *sql.DB, c domain.CandidateCase) error {
	_, err := db.Exec(
		`INSERT INTO cases (id, title, description, keywords, reference_numbers, subject_patterns, classification_notes)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   title = excluded.title,
		   description = excluded.description,
		   keywords = excluded.keywords,
		   reference_numbers = excluded.reference_numbers,
		   subject_patterns = excluded.subject_patterns,
		   classification_notes = excluded.classification_notes`,
		c.ID, c.Title, c.Description, encodeList(c.Keywords), encodeList(c.ReferenceNumbers),
		encodeList(c.SubjectPatterns), c.ClassificationNotes,
	)
	return err
}

func SetCaseStatus(db *sql.DB, id, status string) error {
	res, err := db.Exec(`UPDATE cases SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("case %q: %w", id, sql.ErrNoRows)
	}
	return nil
}

func GetActiveCases(db *sql.DB) ([]domain.CandidateCase, error) {
	rows, err := db.Query(
		`SELECT id, title, description, keywords, reference_numbers, subject_patterns, classification_notes
		 FROM cases WHERE status = 'active' ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.CandidateCase
	for rows.Next() {
		var c domain.CandidateCase
		var keywords, refs, patterns string
		if err := rows.Scan(&c.ID, &c.Title, &c.Description, &keywords, &refs, &patterns, &c.ClassificationNotes); err != nil {
			return nil, err
		}
		if c.Keywords, err = decodeList(keywords); err != nil {
			return nil, err
		}
		if c.ReferenceNumbers, err = decodeList(refs); err != nil {
			return nil, err
		}
		if c.SubjectPatterns, err = decodeList(patterns); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- Actors ---

func UpsertActor(db *sql.DB, a domain.CaseActor) error {
	_, err := db.Exec(
		`INSERT INTO case_actors (id, case_id, name, role, emails, domain_patterns)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   case_id = excluded.case_id,
		   name = excluded.name,
		   role = excluded.role,
		   emails = excluded.emails,
		   domain_patterns = excluded.domain_patterns`,
		a.ID, a.CaseID, a.Name, a.Role, encodeList(a.Emails), encodeList(a.DomainPatterns),
	)
	return err
}

// GetActorsByCase returns the actors of active cases keyed by case ID.
func GetActorsByCase(db *sql.DB) (map[string][]domain.CaseActor, error) {
	rows, err := db.Query(
		`SELECT a.id, a.case_id, a.name, a.role, a.emails, a.domain_patterns
		 FROM case_actors a
		 JOIN cases c ON c.id = a.case_id
		 WHERE c.status = 'active'
		 ORDER BY a.case_id, a.id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]domain.CaseActor)
	for rows.Next() {
		var a domain.CaseActor
		var emails, patterns string
		if err := rows.Scan(&a.ID, &a.CaseID, &a.Name, &a.Role, &emails, &patterns); err != nil {
			return nil, err
		}
		if a.Emails, err = decodeList(emails); err != nil {
			return nil, err
		}
		if a.DomainPatterns, err = decodeList(patterns); err != nil {
			return nil, err
		}
		out[a.CaseID] = append(out[a.CaseID], a)
	}
	return out, rows.Err()
}

// --- Communications ---

// InsertCommunications stores new communications as pending. Already known
// IDs are skipped.
func InsertCommunications(db *sql.DB, comms []domain.Communication) (int, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT OR IGNORE INTO communications (id, subject, body_preview, sender, received_at)
		 VALUES (?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	inserted := 0
	for _, c := range comms {
		res, err := stmt.Exec(c.ID, c.Subject, c.BodyPreview, c.From, c.ReceivedAt)
		if err != nil {
			return inserted, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	return inserted, tx.Commit()
}

func GetPendingCommunications(db *sql.DB, limit int) ([]domain.Communication, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(
		`SELECT id, subject, body_preview, sender, received_at
		 FROM communications WHERE status = 'pending'
		 ORDER BY received_at, id
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Communication
	for rows.Next() {
		var c domain.Communication
		if err := rows.Scan(&c.ID, &c.Subject, &c.BodyPreview, &c.From, &c.ReceivedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func GetCommunicationStatus(db *sql.DB, id string) (status, caseID string, err error) {
	err = db.QueryRow(`SELECT status, assigned_case_id FROM communications WHERE id = ?`, id).Scan(&status, &caseID)
	return status, caseID, err
}

// --- Classification History ---

// RecordClassification stores a result and moves the communication to
// status. The case is only assigned for StatusAssigned.
func RecordClassification(db *sql.DB, runID, communicationID string, r domain.ClassificationResult, status string) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	refs := make([]string, 0, len(r.ExtractedReferences))
	for _, ref := range r.ExtractedReferences {
		refs = append(refs, ref.Normalized)
	}
	if _, err := tx.Exec(
		`INSERT INTO classification_history
		 (run_id, communication_id, suggested_case_id, confidence, match_type, needs_review, review_reason,
		  is_global_source, global_source_name, refs, reasons)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, communicationID, r.CaseID(), r.Confidence, string(r.MatchType), r.NeedsHumanReview, r.ReviewReason,
		r.IsGlobalSource, r.GlobalSourceName, strings.Join(refs, ","), strings.Join(r.Reasons, "\n"),
	); err != nil {
		return err
	}

	assigned := ""
	if status == StatusAssigned {
		assigned = r.CaseID()
	}
	if _, err := tx.Exec(
		`UPDATE communications SET status = ?, assigned_case_id = ? WHERE id = ?`,
		status, assigned, communicationID,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func GetClassificationHistory(db *sql.DB, communicationID string) ([]domain.ClassificationRecord, error) {
	rows, err := db.Query(
		`SELECT id, run_id, communication_id, suggested_case_id, confidence, match_type, needs_review, review_reason,
		        is_global_source, global_source_name, refs, reasons, classified_at
		 FROM classification_history
		 WHERE communication_id = ?
		 ORDER BY classified_at DESC, id DESC`,
		communicationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ClassificationRecord
	for rows.Next() {
		var r domain.ClassificationRecord
		var matchType string
		if err := rows.Scan(
			&r.ID, &r.RunID, &r.CommunicationID, &r.SuggestedCaseID, &r.Confidence, &matchType,
			&r.NeedsHumanReview, &r.ReviewReason, &r.IsGlobalSource, &r.GlobalSourceName,
			&r.References, &r.Reasons, &r.ClassifiedAt,
		); err != nil {
			return nil, err
		}
		r.MatchType = domain.MatchType(matchType)
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Classification Stats ---

func GetClassificationStats(db *sql.DB, since time.Time) (domain.ClassificationStats, error) {
	var s domain.ClassificationStats
	err := db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(needs_review), 0), COALESCE(AVG(confidence), 0),
		        COALESCE(SUM(CASE WHEN confidence < 0.50 THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN confidence >= 0.50 AND confidence < 0.70 THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN confidence >= 0.70 AND confidence < 0.90 THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN confidence >= 0.90 THEN 1 ELSE 0 END), 0)
		 FROM classification_history WHERE classified_at >= ?`,
		since,
	).Scan(&s.TotalClassifications, &s.NeedsReview, &s.AvgConfidence,
		&s.BucketBelow50, &s.Bucket50to70, &s.Bucket70to90, &s.Bucket90Plus)
	return s, err
}

// ReviewBacklog returns how many communications wait in review and when the
// oldest of them was received. oldest is zero when count is zero.
func ReviewBacklog(db *sql.DB) (count int, oldest time.Time, err error) {
	if err = db.QueryRow(`SELECT COUNT(*) FROM communications WHERE status = 'review'`).Scan(&count); err != nil {
		return 0, time.Time{}, err
	}
	if count == 0 {
		return 0, time.Time{}, nil
	}
	err = db.QueryRow(
		`SELECT received_at FROM communications WHERE status = 'review' ORDER BY received_at LIMIT 1`,
	).Scan(&oldest)
	return count, oldest, err
}
