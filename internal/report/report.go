// Package report renders run summaries and checkpoint contents as tables.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/bdougie/vidclassify/internal/batch"
	"github.com/bdougie/vidclassify/internal/models"
)

// newTable returns a rounded table whose listed 1-based columns hold
// right-aligned numbers.
func newTable(header table.Row, numeric ...int) table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(header)
	configs := make([]table.ColumnConfig, 0, len(numeric))
	for _, n := range numeric {
		configs = append(configs, table.ColumnConfig{
			Number:      n,
			Align:       text.AlignRight,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(configs)
	return tw
}

// RenderSummary prints the outcome of a single run.
func RenderSummary(s batch.Summary) string {
	tw := newTable(table.Row{"Run", "Count"}, 2)
	tw.AppendRows([]table.Row{
		{"Videos in range", s.Considered},
		{"Skipped (already processed)", s.Skipped},
		{"Classified", s.Succeeded},
		{"Failed", s.Failed},
		{"Results in checkpoint", s.Total},
		{"Elapsed", s.Duration.Round(time.Second).String()},
	})
	return tw.Render()
}

// Status aggregates a checkpoint for display.
type Status struct {
	Total     int
	Succeeded int
	Failed    int
	// MeanConfidence is averaged over successful results only.
	MeanConfidence float64
	ByLabel        map[string]int
	// Failures maps each failure reason to its count.
	Failures map[string]int
}

// Summarize counts results by outcome, predicted label and failure reason.
func Summarize(results []models.ClassificationResult) Status {
	st := Status{
		Total:    len(results),
		ByLabel:  make(map[string]int),
		Failures: make(map[string]int),
	}
	var confidence float64
	for _, r := range results {
		if r.Failed() {
			st.Failed++
			st.Failures[strings.TrimPrefix(r.PredictedClass, models.ErrorPrefix)]++
			continue
		}
		st.Succeeded++
		st.ByLabel[r.PredictedClass]++
		confidence += r.Confidence
	}
	if st.Succeeded > 0 {
		st.MeanConfidence = confidence / float64(st.Succeeded)
	}
	return st
}

// RenderStatus prints checkpoint totals followed by per-label and
// per-failure-reason counts, largest first.
func RenderStatus(results []models.ClassificationResult) string {
	st := Summarize(results)
	var b strings.Builder

	totals := newTable(table.Row{"Checkpoint", "Value"}, 2)
	totals.AppendRows([]table.Row{
		{"Results", st.Total},
		{"Classified", st.Succeeded},
		{"Failed", st.Failed},
		{"Mean confidence", fmt.Sprintf("%.3f", st.MeanConfidence)},
	})
	b.WriteString(totals.Render())

	if len(st.ByLabel) > 0 {
		b.WriteString("\n")
		b.WriteString(countTable("Predicted class", st.ByLabel))
	}
	if len(st.Failures) > 0 {
		b.WriteString("\n")
		b.WriteString(countTable("Failure", st.Failures))
	}
	return b.String()
}

// RenderSimilar prints nearest neighbours of a video.
func RenderSimilar(matches []models.SimilarVideo) string {
	tw := newTable(table.Row{"Video", "File", "Predicted class", "Similarity"}, 1, 4)
	for _, m := range matches {
		tw.AppendRow(table.Row{m.VideoID, m.Filename, m.PredictedClass, fmt.Sprintf("%.3f", m.Similarity)})
	}
	return tw.Render()
}

// countTable lists counts largest first, ties by name.
func countTable(title string, counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	tw := newTable(table.Row{title, "Videos"}, 2)
	for _, k := range keys {
		tw.AppendRow(table.Row{k, counts[k]})
	}
	return tw.Render()
}
