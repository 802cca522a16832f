package cliui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/papercomputeco/kdb/pkg/ingest"
	"github.com/papercomputeco/kdb/pkg/vector"
)

// maxFailureWidth bounds failure messages, which may quote whole LLM
// responses.
const maxFailureWidth = 120

var (
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	addedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	updatedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	deletedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	sourceStyle  = lipgloss.NewStyle().Bold(true)
)

// RenderReport writes a one-line summary of an ingestion run followed by
// one line per chunk failure.
func RenderReport(w io.Writer, r *ingest.Report) {
	var err error
	if r.Failed() {
		err = fmt.Errorf("%s", r.Status)
	}

	fmt.Fprintf(w, "  %s %s  %s %s %s %s %s %s\n",
		Mark(err),
		sourceStyle.Render(r.SourceID),
		addedStyle.Render(fmt.Sprintf("+%d", r.Added)),
		updatedStyle.Render(fmt.Sprintf("~%d", r.Updated)),
		deletedStyle.Render(fmt.Sprintf("-%d", r.Deleted)),
		labelStyle.Render(fmt.Sprintf("%d unchanged", r.Unchanged)),
		labelStyle.Render(fmt.Sprintf("%d skipped", r.Skipped)),
		StepStyle.Render(fmt.Sprintf("(%s)", FormatDuration(r.Duration))),
	)

	for _, f := range r.Failures {
		fmt.Fprintf(w, "      %s chunk %d: %s\n", FailMark, f.SequenceIndex, labelStyle.Render(ansi.Truncate(string(f.Kind)+": "+f.Message, maxFailureWidth, "…")))
	}
	if r.Failed() && len(r.Failures) == 0 && len(r.Errors) > 0 {
		fmt.Fprintf(w, "      %s %s\n", FailMark, labelStyle.Render(string(r.Errors[len(r.Errors)-1])))
	}
}

// SearchMarkdown formats search results as markdown for RenderMarkdown.
func SearchMarkdown(query string, results []vector.SearchResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Results for %q\n\n", query)

	if len(results) == 0 {
		b.WriteString("_No matching chunks._\n")
		return b.String()
	}

	for i, r := range results {
		fmt.Fprintf(&b, "## %d. %s (chunk %s, score %.3f)\n\n",
			i+1, r.SourceID(), r.Metadata[vector.MetaSequenceIndex], r.Score)
		if ctx := r.Metadata[vector.MetaContext]; ctx != "" {
			fmt.Fprintf(&b, "> %s\n\n", strings.ReplaceAll(ctx, "\n", " "))
		}
		b.WriteString(r.Content)
		b.WriteString("\n\n")
	}

	return b.String()
}
