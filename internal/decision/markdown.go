package decision

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/shigeo-nakamura/pairtrade/internal/domain"
	"github.com/shigeo-nakamura/pairtrade/internal/metrics"
)

// RenderMarkdown renders the checklist of one result.
func RenderMarkdown(r *Result) string {
	var sb strings.Builder

	subject := r.Input.Pair
	if subject == "" {
		subject = "all pairs"
	}
	sb.WriteString(fmt.Sprintf("### %s: %s (%s)\n\n", r.Action, subject, r.Input.Mode))

	sb.WriteString("| # | Criterion | Threshold | Actual | Pass |\n")
	sb.WriteString("|---|-----------|-----------|--------|------|\n")
	for i, c := range r.Criteria {
		pass := "PASS"
		if !c.Pass {
			pass = "FAIL"
		}
		sb.WriteString(fmt.Sprintf("| %d | %s | %s | %s | %s |\n", i+1, c.Name, c.Threshold, c.Actual, pass))
	}
	sb.WriteString("\n")
	return sb.String()
}

// RenderDecisions renders stored decisions as a single table.
func RenderDecisions(decisions []*domain.ConfigDecision) string {
	var sb strings.Builder

	if len(decisions) == 0 {
		sb.WriteString("No config updates were considered.\n")
		return sb.String()
	}

	applied := 0
	sb.WriteString("| Action | Mode | Pair | Target | Score | Reasons |\n")
	sb.WriteString("|--------|------|------|--------|-------|---------|\n")
	for _, d := range decisions {
		if d.Action == domain.DecisionApply {
			applied++
		}
		pair := d.Pair
		if pair == "" {
			pair = "*"
		}
		target := "-"
		if d.Target != "" {
			target = filepath.Base(d.Target)
		}
		reasons := "-"
		if len(d.Reasons) > 0 {
			reasons = strings.Join(d.Reasons, "; ")
		}
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s | %s |\n",
			d.Action, d.Mode, pair, target, metrics.FormatScore(d.Score), reasons))
	}
	sb.WriteString(fmt.Sprintf("\nApplied: %d/%d\n", applied, len(decisions)))
	return sb.String()
}
