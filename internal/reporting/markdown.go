package reporting

import (
	"fmt"
	"strings"
	"time"

	"github.com/shigeo-nakamura/pairtrade/internal/decision"
	"github.com/shigeo-nakamura/pairtrade/internal/metrics"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	sb.WriteString("# Optimization Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))

	// Run summary
	sb.WriteString("## Run\n\n")
	sb.WriteString("| Field | Value |\n")
	sb.WriteString("|-------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Run ID | %s |\n", r.Run.RunID))
	sb.WriteString(fmt.Sprintf("| Status | %s |\n", r.Run.Status))
	sb.WriteString(fmt.Sprintf("| Started | %s |\n", r.Run.StartedAt.Format(time.RFC3339)))
	if !r.Run.FinishedAt.IsZero() {
		sb.WriteString(fmt.Sprintf("| Finished | %s |\n", r.Run.FinishedAt.Format(time.RFC3339)))
		sb.WriteString(fmt.Sprintf("| Duration | %s |\n", r.Run.Duration().Round(time.Second)))
	}
	if r.Run.BestPair != "" {
		sb.WriteString(fmt.Sprintf("| Best Pair | %s |\n", r.Run.BestPair))
	}
	sb.WriteString(fmt.Sprintf("| Best Score | %s |\n", metrics.FormatScore(r.Run.BestScore)))
	if r.Run.BestParams != "" {
		sb.WriteString(fmt.Sprintf("| Best Params | `%s` |\n", r.Run.BestParams))
	}
	if r.Run.Error != "" {
		sb.WriteString(fmt.Sprintf("| Error | %s |\n", r.Run.Error))
	}
	sb.WriteString("\n")

	// Windows
	sb.WriteString("## Windows\n\n")
	sb.WriteString("| Window | Start | End | Days |\n")
	sb.WriteString("|--------|-------|-----|------|\n")
	for _, w := range r.Windows {
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %.2f |\n",
			w.Name, w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339), w.End.Sub(w.Start).Hours()/24))
	}
	sb.WriteString("\n")

	// Pairs
	sb.WriteString("## Pairs\n\n")
	if len(r.Pairs) > 0 {
		sb.WriteString("| Pair | Train Runs | Train Valid | Train Score | Validation Runs | Validation Score | Params |\n")
		sb.WriteString("|------|------------|-------------|-------------|-----------------|------------------|--------|\n")
		for _, p := range r.Pairs {
			sb.WriteString(fmt.Sprintf("| %s | %d | %d | %s | %d | %s | `%s` |\n",
				p.Pair, p.TrainRuns, p.TrainValid, metrics.FormatScore(p.TrainScore),
				p.ValidationRuns, metrics.FormatScore(p.ValidationScore), p.SelectedParams()))
		}
	} else {
		sb.WriteString("No evaluations recorded.\n")
	}
	sb.WriteString("\n")

	// Stages
	sb.WriteString("## Evaluations by Stage\n\n")
	if len(r.Stages) > 0 {
		sb.WriteString("| Stage | Total | Valid |\n")
		sb.WriteString("|-------|-------|-------|\n")
		for _, s := range r.Stages {
			sb.WriteString(fmt.Sprintf("| %s | %d | %d |\n", s.Stage, s.Total, s.Valid))
		}
	} else {
		sb.WriteString("No evaluations recorded.\n")
	}
	sb.WriteString("\n")

	// Decisions
	sb.WriteString("## Config Decisions\n\n")
	sb.WriteString(decision.RenderDecisions(r.Decisions))
	sb.WriteString("\n")

	// Top evaluations
	sb.WriteString("## Top Evaluations\n\n")
	if len(r.TopEvaluations) > 0 {
		sb.WriteString("| # | Pair | Stage | Score | Params |\n")
		sb.WriteString("|---|------|-------|-------|--------|\n")
		for i, e := range r.TopEvaluations {
			sb.WriteString(fmt.Sprintf("| %d | %s | %s | %s | `%s` |\n",
				i+1, e.Pair, e.Stage, metrics.FormatScore(e.Score), e.Params))
		}
	} else {
		sb.WriteString("No evaluations recorded.\n")
	}
	sb.WriteString("\n")

	return sb.String()
}
