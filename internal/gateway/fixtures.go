package gateway

import (
	"time"

	"driftd/internal/signal"
)

// SyntheticProjectID namespaces everything derived from fixtures. Live and
// synthetic records never share a project id, so a fallback run cannot
// overwrite ground truth.
const SyntheticProjectID = "synthetic"

// FixtureSet is a deterministic bundle of synthetic payloads per source.
// Fixtures are anchored to a fixed timestamp: replaying them yields
// byte-identical evidence every time.
type FixtureSet struct {
	payloads map[signal.Source][]signal.RawPayload
}

// For returns copies of the fixtures for one source.
func (f *FixtureSet) For(src signal.Source) []signal.RawPayload {
	out := make([]signal.RawPayload, len(f.payloads[src]))
	copy(out, f.payloads[src])
	return out
}

// DefaultFixtures models the demo topology: a PR touching the auth
// component and an operational complaint about payments, enough to light
// up every stage of the engine without any live provider.
func DefaultFixtures() *FixtureSet {
	anchor := time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC)

	return &FixtureSet{payloads: map[signal.Source][]signal.RawPayload{
		signal.SourceGit: {
			{
				Source:    signal.SourceGit,
				Timestamp: anchor,
				ProjectID: SyntheticProjectID,
				Repo:      "acme/platform",
				PRNumber:  42,
				Files:     []string{"services/auth/token.go", "services/auth/claims.go"},
				Text:      "BREAKING CHANGE: rotate token signing keys, drop legacy claim",
			},
		},
		signal.SourceSlack: {
			{
				Source:    signal.SourceSlack,
				Timestamp: anchor.Add(2 * time.Hour),
				ProjectID: SyntheticProjectID,
				Channel:   "ops-payments",
				ThreadTS:  "1760000000.000100",
				Text:      "checkout is broken after the auth deploy, comp:auth rejects refunds and the payments guide is outdated",
			},
		},
		signal.SourceTicket: {
			{
				Source:    signal.SourceTicket,
				Timestamp: anchor.Add(3 * time.Hour),
				ProjectID: SyntheticProjectID,
				System:    "jira",
				Key:       "PAY-311",
				Text:      "svc:payments integration guide shows the removed legacy claim, customers report error responses",
			},
		},
		signal.SourceSupport: {
			{
				Source:    signal.SourceSupport,
				Timestamp: anchor.Add(5 * time.Hour),
				ProjectID: SyntheticProjectID,
				CaseID:    "CS-9001",
				Text:      "partner followed docs for comp:payments and the request fails with a signature error",
			},
		},
		signal.SourceDoc: {
			{
				Source:    signal.SourceDoc,
				Timestamp: anchor.Add(-30 * 24 * time.Hour),
				ProjectID: SyntheticProjectID,
				DocPath:   "docs/payments.md",
				Text:      "Payments integration guide, last reviewed",
			},
		},
	}}
}
