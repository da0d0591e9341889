// Package report renders impact reports as markdown with embedded mermaid
// diagrams, the artifact an operator pastes into a ticket or a doc.
package report

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"driftd/internal/impact"
	"driftd/internal/issue"
)

// Renderer builds markdown artifacts from engine output.
type Renderer struct{}

// ImpactDiagram draws the blast radius as a left-to-right mermaid graph.
// Changed components are the roots; every impacted entity hangs off them
// labeled with its hop depth.
func (r *Renderer) ImpactDiagram(rep *impact.Report) string {
	var sb strings.Builder
	sb.WriteString("```mermaid\n")
	sb.WriteString("graph LR\n")

	for _, id := range rep.ChangedComponents {
		sb.WriteString(fmt.Sprintf("    %s[%q]:::changed\n", mermaidID(id), id))
	}

	emit := func(items []impact.Impacted, class string) {
		for _, imp := range items {
			sb.WriteString(fmt.Sprintf("    %s[%q]:::%s\n", mermaidID(imp.ID), fmt.Sprintf("%s (depth %d)", imp.ID, imp.Depth), class))
		}
	}
	emit(rep.ImpactedComponents, "component")
	emit(rep.ImpactedServices, "service")
	emit(rep.ImpactedDocs, "doc")

	for _, e := range diagramEdges(rep) {
		sb.WriteString(fmt.Sprintf("    %s --> %s\n", mermaidID(e[0]), mermaidID(e[1])))
	}

	sb.WriteString("    classDef changed fill:#f66\n")
	sb.WriteString("    classDef doc fill:#fc6\n")
	sb.WriteString("```\n")
	return sb.String()
}

// diagramEdges reconstructs drawable edges from the per-entity reasons.
// A reason names the neighbor the entity was discovered through, so each
// impacted entity gets exactly one inbound arrow.
func diagramEdges(rep *impact.Report) [][2]string {
	var edges [][2]string
	collect := func(items []impact.Impacted) {
		for _, imp := range items {
			if from := reasonTarget(imp.Reason); from != "" {
				edges = append(edges, [2]string{from, imp.ID})
			}
		}
	}
	collect(rep.ImpactedComponents)
	collect(rep.ImpactedServices)
	collect(rep.ImpactedDocs)
	return edges
}

var reasonRe = regexp.MustCompile(`^(?:Depends on|Documents|Owns|Linked to) (\S+) at depth \d+$`)

func reasonTarget(reason string) string {
	m := reasonRe.FindStringSubmatch(reason)
	if m == nil {
		return ""
	}
	return m[1]
}

// Markdown renders the full report: summary header, diagram, impacted
// entity tables, and the doc issues the report produced.
func (r *Renderer) Markdown(rep *impact.Report, issues []*issue.DocIssue) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("# Impact Report %s\n\n", rep.ChangeEventID))
	sb.WriteString(fmt.Sprintf("**Impact level:** %s\n\n", rep.ImpactLevel))
	sb.WriteString(fmt.Sprintf("**Changed components:** %s\n\n", strings.Join(rep.ChangedComponents, ", ")))

	sb.WriteString(r.ImpactDiagram(rep))
	sb.WriteString("\n")

	writeSection := func(title string, items []impact.Impacted) {
		if len(items) == 0 {
			return
		}
		sb.WriteString(fmt.Sprintf("## %s\n\n", title))
		sb.WriteString("| Entity | Depth | Reason |\n")
		sb.WriteString("|---|---|---|\n")
		for _, imp := range items {
			sb.WriteString(fmt.Sprintf("| %s | %d | %s |\n", imp.ID, imp.Depth, imp.Reason))
		}
		sb.WriteString("\n")
	}
	writeSection("Impacted Components", rep.ImpactedComponents)
	writeSection("Impacted Services", rep.ImpactedServices)
	writeSection("Impacted Docs", rep.ImpactedDocs)

	if len(issues) > 0 {
		sorted := append([]*issue.DocIssue(nil), issues...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

		sb.WriteString("## Doc Issues\n\n")
		sb.WriteString("| Issue | Doc | Severity | Status |\n")
		sb.WriteString("|---|---|---|---|\n")
		for _, d := range sorted {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n", d.ID, d.DocPath, d.Severity, d.Status))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

var mermaidIDRe = regexp.MustCompile(`[^a-z0-9_]`)

func mermaidID(v string) string {
	v = strings.TrimSpace(strings.ToLower(v))
	v = mermaidIDRe.ReplaceAllString(strings.ReplaceAll(v, "-", "_"), "_")
	if v == "" {
		return "node"
	}
	if v[0] >= '0' && v[0] <= '9' {
		v = "n_" + v
	}
	return v
}
