package signal

import (
	"fmt"
	"time"
)

// Source identifies which provider an activity signal came from.
// The set is closed: normalization dispatches on it with a single switch.
type Source string

const (
	SourceGit     Source = "git"
	SourceSlack   Source = "slack"
	SourceTicket  Source = "ticket"
	SourceSupport Source = "support"
	SourceDoc     Source = "doc"
)

// ValidSource reports whether s is one of the known source tags.
func ValidSource(s Source) bool {
	switch s {
	case SourceGit, SourceSlack, SourceTicket, SourceSupport, SourceDoc:
		return true
	}
	return false
}

// Evidence is a normalized, source-tagged fact used as scoring and
// propagation input. The ID is canonical and source-prefixed, so the same
// external event always maps to the same Evidence id across re-ingestion.
// Evidence is immutable once created; a superseding update is a new record
// with the same id and a later timestamp (last-write-wins on read).
type Evidence struct {
	ID         string            `json:"id"`
	Source     Source            `json:"source"`
	EntityRefs []string          `json:"entity_refs"`
	Timestamp  time.Time         `json:"timestamp"`
	Payload    map[string]string `json:"payload,omitempty"`
}

// RawPayload is the ingestion input contract: everything a provider must
// supply for Evidence to be derivable. Fields are source-specific; unused
// ones stay zero.
type RawPayload struct {
	Source    Source    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text,omitempty"`
	ProjectID string    `json:"project_id,omitempty"`

	// git
	Repo     string   `json:"repo,omitempty"`
	SHA      string   `json:"sha,omitempty"`
	PRNumber int      `json:"pr_number,omitempty"`
	Files    []string `json:"files,omitempty"`
	Diff     string   `json:"diff,omitempty"`

	// slack
	Channel  string `json:"channel,omitempty"`
	ThreadTS string `json:"thread_ts,omitempty"`

	// ticket
	System string `json:"system,omitempty"`
	Key    string `json:"key,omitempty"`

	// support
	CaseID string `json:"case_id,omitempty"`

	// doc
	DocPath string `json:"doc_path,omitempty"`
}

// WarningKind classifies normalization warnings.
type WarningKind string

const (
	// WarnMalformedEvidence marks evidence whose payload carried no usable
	// entity hints. The evidence is still stored with empty EntityRefs;
	// dropping it would blind the engine.
	WarnMalformedEvidence WarningKind = "malformed_evidence"
)

// Warning is a non-fatal normalization diagnostic tied to one evidence id.
type Warning struct {
	Kind       WarningKind `json:"kind"`
	EvidenceID string      `json:"evidence_id"`
	Detail     string      `json:"detail"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s (%s)", w.Kind, w.EvidenceID, w.Detail)
}

// Canonical id constructors. Keep these in one place: the DocIssue join key
// and re-ingestion idempotency both depend on these strings never changing
// shape.

func GitEvidenceID(repo, sha string, prNumber int) string {
	if prNumber > 0 {
		return fmt.Sprintf("git:%s:pr-%d", repo, prNumber)
	}
	return fmt.Sprintf("git:%s:%s", repo, sha)
}

func SlackEvidenceID(channel, ts string) string {
	return fmt.Sprintf("slack:%s:%s", channel, ts)
}

func TicketEvidenceID(system, key string) string {
	return fmt.Sprintf("ticket:%s:%s", system, key)
}

func SupportEvidenceID(caseID string) string {
	return fmt.Sprintf("support:%s", caseID)
}

func DocEvidenceID(path string) string {
	return fmt.Sprintf("doc:%s", path)
}
