// Package issue manages the lifecycle of DocIssue records: deduplicated,
// evidence-traceable facts that one doc has drifted from one changed
// entity.
package issue

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Status is the operator-facing lifecycle state.
type Status string

const (
	StatusTriage     Status = "triage"
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
)

var statusRank = map[Status]int{
	StatusTriage:     0,
	StatusOpen:       1,
	StatusInProgress: 2,
	StatusResolved:   3,
}

// ValidTransition reports whether an operator move from one status to
// another is allowed. Forward moves along triage -> open -> in_progress ->
// resolved may skip steps; the only backward move is an explicit operator
// reopen of a resolved issue.
func ValidTransition(from, to Status) bool {
	fromRank, ok := statusRank[from]
	if !ok {
		return false
	}
	toRank, ok := statusRank[to]
	if !ok {
		return false
	}
	if toRank > fromRank {
		return true
	}
	return from == StatusResolved && to == StatusOpen
}

// DocIssue is one detected drift fact tied to one doc. Its ID is the
// stable join key for every downstream surface; the hashing here must
// never change shape without an explicit migration.
type DocIssue struct {
	ID                    string    `json:"id"`
	ProjectID             string    `json:"project_id"`
	ComponentID           string    `json:"component_id"`
	DocPath               string    `json:"doc_path"`
	Severity              string    `json:"severity"`
	Score                 float64   `json:"score"`
	Status                Status    `json:"status"`
	OriginInvestigationID string    `json:"origin_investigation_id,omitempty"`
	EvidenceIDs           []string  `json:"evidence_ids"`
	ReopenCandidate       bool      `json:"reopen_candidate,omitempty"`
	DetectedAt            time.Time `json:"detected_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// ID derives the deterministic DocIssue id from the (project, changed
// entity, impacted doc) triple: a short sha256 over a canonical
// fingerprint. The project is part of the identity so records from
// different namespaces can never collide; a synthetic fallback run writes
// into its own issues, not into live ones.
func ID(projectID, changedEntityID, docID string) string {
	fingerprint := projectID + "|" + changedEntityID + "|" + docID
	sum := sha256.Sum256([]byte(fingerprint))
	return "di-" + hex.EncodeToString(sum[:8])
}

// Clone returns a deep copy, so stored issues never leak mutable slices.
func (d *DocIssue) Clone() *DocIssue {
	c := *d
	c.EvidenceIDs = append([]string(nil), d.EvidenceIDs...)
	return &c
}

func (d *DocIssue) String() string {
	return fmt.Sprintf("%s [%s/%s] %s -> %s", d.ID, d.Severity, d.Status, d.ComponentID, d.DocPath)
}
