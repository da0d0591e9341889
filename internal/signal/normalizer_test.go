package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testResolver() *EntityResolver {
	return NewEntityResolver(
		[]PathRule{
			{Prefix: "services/auth/", ComponentID: "comp:auth"},
			{Prefix: "services/payments/", ComponentID: "comp:payments"},
		},
		[]EndpointRule{
			{Prefix: "services/auth/api/", EndpointID: "api:auth-token"},
		},
		map[string]string{"ops-payments": "svc:payments"},
		map[string]string{"docs/payments.md": "doc:payments-guide"},
	)
}

func TestNormalize_Git(t *testing.T) {
	raw := RawPayload{
		Source:    SourceGit,
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Repo:      "acme/platform",
		PRNumber:  42,
		Files:     []string{"services/auth/token.go", "services/auth/api/handler.go"},
		Text:      "refactor token issuing",
	}

	evs, warnings := Normalize(raw, testResolver())
	require.Len(t, evs, 1)
	ev := evs[0]

	assert.Equal(t, "git:acme/platform:pr-42", ev.ID)
	assert.Equal(t, SourceGit, ev.Source)
	assert.Equal(t, []string{"comp:auth", "api:auth-token"}, ev.EntityRefs)
	assert.Empty(t, warnings)

	t.Run("stable across re-ingestion", func(t *testing.T) {
		again, _ := Normalize(raw, testResolver())
		assert.Equal(t, ev.ID, again[0].ID)
		assert.Equal(t, ev.EntityRefs, again[0].EntityRefs)
	})
}

func TestNormalize_GitDiffFallback(t *testing.T) {
	diff := "diff --git a/services/payments/ledger.go b/services/payments/ledger.go\n" +
		"@@ -10,2 +10,4 @@\n" +
		"+added\n"

	raw := RawPayload{
		Source:    SourceGit,
		Timestamp: time.Now().UTC(),
		Repo:      "acme/platform",
		SHA:       "deadbeef",
		Diff:      diff,
	}

	evs, warnings := Normalize(raw, testResolver())
	require.Len(t, evs, 1)
	assert.Equal(t, "git:acme/platform:deadbeef", evs[0].ID)
	assert.Equal(t, []string{"comp:payments"}, evs[0].EntityRefs)
	assert.Equal(t, "4", evs[0].Payload["lines_changed"])
	assert.Empty(t, warnings)
}

func TestNormalize_Slack(t *testing.T) {
	raw := RawPayload{
		Source:    SourceSlack,
		Timestamp: time.Now().UTC(),
		Channel:   "ops-payments",
		ThreadTS:  "1700000000.000100",
		Text:      "checkout is broken again, comp:auth keeps rejecting tokens",
	}

	evs, warnings := Normalize(raw, testResolver())
	require.Len(t, evs, 1)
	assert.Equal(t, "slack:ops-payments:1700000000.000100", evs[0].ID)
	assert.Equal(t, []string{"svc:payments", "comp:auth"}, evs[0].EntityRefs)
	assert.Empty(t, warnings)
}

func TestNormalize_MalformedNeverDropped(t *testing.T) {
	raw := RawPayload{
		Source:    SourceSupport,
		Timestamp: time.Now().UTC(),
		CaseID:    "CS-991",
		Text:      "customer cannot log in",
	}

	evs, warnings := Normalize(raw, testResolver())
	require.Len(t, evs, 1)
	assert.Equal(t, "support:CS-991", evs[0].ID)
	assert.Empty(t, evs[0].EntityRefs)
	require.Len(t, warnings, 1)
	assert.Equal(t, WarnMalformedEvidence, warnings[0].Kind)
	assert.Equal(t, "support:CS-991", warnings[0].EvidenceID)
}

func TestNormalize_TicketAndDoc(t *testing.T) {
	ticket, _ := Normalize(RawPayload{
		Source:    SourceTicket,
		Timestamp: time.Now().UTC(),
		System:    "jira",
		Key:       "PAY-123",
		Text:      "svc:payments docs out of date",
	}, testResolver())
	assert.Equal(t, "ticket:jira:PAY-123", ticket[0].ID)
	assert.Contains(t, ticket[0].EntityRefs, "svc:payments")

	doc, _ := Normalize(RawPayload{
		Source:    SourceDoc,
		Timestamp: time.Now().UTC(),
		DocPath:   "docs/payments.md",
	}, testResolver())
	assert.Equal(t, "doc:docs/payments.md", doc[0].ID)
	assert.Equal(t, []string{"doc:payments-guide"}, doc[0].EntityRefs)
}

func TestParseUnifiedDiff(t *testing.T) {
	diff := "diff --git a/foo.go b/foo.go\n" +
		"@@ -1,3 +1,3 @@\n" +
		"-old\n+new\n" +
		"diff --git a/bar.go b/bar.go\n" +
		"@@ -5 +7 @@\n" +
		"+x\n"

	changes := ParseUnifiedDiff(diff)
	require.Len(t, changes, 2)
	assert.Equal(t, "foo.go", changes[0].Path)
	assert.Equal(t, []int{1, 2, 3}, changes[0].ChangedLines)
	assert.Equal(t, "bar.go", changes[1].Path)
	assert.Equal(t, []int{7}, changes[1].ChangedLines)

	stats := StatsFor(changes)
	assert.Equal(t, 2, stats.Files)
	assert.Equal(t, 4, stats.ChangedLines)
}
