package signal

import (
	"fmt"
	"strconv"
	"strings"
)

// Normalize converts one raw provider payload into canonical Evidence.
// It is a pure mapping: the same payload always yields the same evidence id
// and entity refs. Payloads without usable entity hints are never dropped;
// they come back with empty EntityRefs plus a MalformedEvidence warning.
func Normalize(raw RawPayload, resolver *EntityResolver) ([]Evidence, []Warning) {
	if !ValidSource(raw.Source) {
		ev := Evidence{
			ID:        fmt.Sprintf("unknown:%d", raw.Timestamp.UnixNano()),
			Source:    raw.Source,
			Timestamp: raw.Timestamp,
			Payload:   map[string]string{"text": raw.Text},
		}
		return []Evidence{ev}, []Warning{{
			Kind:       WarnMalformedEvidence,
			EvidenceID: ev.ID,
			Detail:     fmt.Sprintf("unknown source %q", raw.Source),
		}}
	}

	var ev Evidence
	switch raw.Source {
	case SourceGit:
		ev = normalizeGit(raw, resolver)
	case SourceSlack:
		ev = normalizeSlack(raw, resolver)
	case SourceTicket:
		ev = normalizeTicket(raw, resolver)
	case SourceSupport:
		ev = normalizeSupport(raw, resolver)
	case SourceDoc:
		ev = normalizeDoc(raw, resolver)
	}

	var warnings []Warning
	if len(ev.EntityRefs) == 0 {
		warnings = append(warnings, Warning{
			Kind:       WarnMalformedEvidence,
			EvidenceID: ev.ID,
			Detail:     "no entity hints resolved from payload",
		})
	}
	return []Evidence{ev}, warnings
}

func normalizeGit(raw RawPayload, resolver *EntityResolver) Evidence {
	files := raw.Files
	stats := DiffStats{}
	if raw.Diff != "" {
		changed := ParseUnifiedDiff(raw.Diff)
		stats = StatsFor(changed)
		if len(files) == 0 {
			for _, c := range changed {
				files = append(files, c.Path)
			}
		}
	}

	payload := map[string]string{
		"repo": raw.Repo,
		"text": raw.Text,
	}
	if raw.SHA != "" {
		payload["sha"] = raw.SHA
	}
	if raw.PRNumber > 0 {
		payload["pr_number"] = strconv.Itoa(raw.PRNumber)
	}
	if len(files) > 0 {
		payload["files"] = strings.Join(files, ",")
		payload["files_changed"] = strconv.Itoa(len(files))
	}
	if stats.ChangedLines > 0 {
		payload["lines_changed"] = strconv.Itoa(stats.ChangedLines)
	}

	return Evidence{
		ID:         GitEvidenceID(raw.Repo, raw.SHA, raw.PRNumber),
		Source:     SourceGit,
		EntityRefs: resolver.refsForFiles(files),
		Timestamp:  raw.Timestamp,
		Payload:    payload,
	}
}

func normalizeSlack(raw RawPayload, resolver *EntityResolver) Evidence {
	var refs []string
	if svc := resolver.ServiceForChannel(raw.Channel); svc != "" {
		refs = append(refs, svc)
	}
	// Inline component mentions ("comp:auth is broken") resolve directly.
	refs = appendInlineRefs(refs, raw.Text)

	return Evidence{
		ID:         SlackEvidenceID(raw.Channel, raw.ThreadTS),
		Source:     SourceSlack,
		EntityRefs: refs,
		Timestamp:  raw.Timestamp,
		Payload: map[string]string{
			"channel": raw.Channel,
			"text":    raw.Text,
		},
	}
}

func normalizeTicket(raw RawPayload, resolver *EntityResolver) Evidence {
	var refs []string
	if svc := resolver.ServiceForChannel(raw.Channel); svc != "" {
		refs = append(refs, svc)
	}
	refs = appendInlineRefs(refs, raw.Text)

	return Evidence{
		ID:         TicketEvidenceID(raw.System, raw.Key),
		Source:     SourceTicket,
		EntityRefs: refs,
		Timestamp:  raw.Timestamp,
		Payload: map[string]string{
			"system": raw.System,
			"key":    raw.Key,
			"text":   raw.Text,
		},
	}
}

func normalizeSupport(raw RawPayload, resolver *EntityResolver) Evidence {
	return Evidence{
		ID:         SupportEvidenceID(raw.CaseID),
		Source:     SourceSupport,
		EntityRefs: appendInlineRefs(nil, raw.Text),
		Timestamp:  raw.Timestamp,
		Payload: map[string]string{
			"case_id": raw.CaseID,
			"text":    raw.Text,
		},
	}
}

func normalizeDoc(raw RawPayload, resolver *EntityResolver) Evidence {
	var refs []string
	if raw.DocPath != "" {
		refs = append(refs, resolver.DocForPath(raw.DocPath))
	}
	return Evidence{
		ID:         DocEvidenceID(raw.DocPath),
		Source:     SourceDoc,
		EntityRefs: refs,
		Timestamp:  raw.Timestamp,
		Payload: map[string]string{
			"doc_path": raw.DocPath,
			"text":     raw.Text,
		},
	}
}

// appendInlineRefs picks up explicit entity ids mentioned in free text.
// Operational channels routinely name components the canonical way
// ("comp:auth", "svc:payments"), and those mentions are the strongest
// entity hint a complaint carries.
func appendInlineRefs(refs []string, text string) []string {
	seen := make(map[string]bool, len(refs))
	for _, r := range refs {
		seen[r] = true
	}
	for _, word := range strings.Fields(text) {
		word = strings.Trim(word, ".,:;!?()[]\"'")
		if !strings.HasPrefix(word, "comp:") && !strings.HasPrefix(word, "svc:") &&
			!strings.HasPrefix(word, "api:") && !strings.HasPrefix(word, "doc:") {
			continue
		}
		if !seen[word] {
			seen[word] = true
			refs = append(refs, word)
		}
	}
	return refs
}
