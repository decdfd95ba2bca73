// Package render serializes a report for consumers. Two formats: JSON
// for tooling and Markdown for humans. Both always include the audit
// trail; discarded findings are part of the record, not an option.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"concord/internal/model"
)

// Format selects the output encoding.
type Format string

const (
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// ParseFormat maps a flag value to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json", "":
		return FormatJSON, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unknown format %q (want json or markdown)", s)
	}
}

// Render writes the report in the requested format.
func Render(w io.Writer, report *model.Report, format Format) error {
	switch format {
	case FormatMarkdown:
		return renderMarkdown(w, report)
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
}

func renderMarkdown(w io.Writer, r *model.Report) error {
	var b strings.Builder

	fmt.Fprintf(&b, "# Reconciliation report: %s\n\n", r.Subject)
	fmt.Fprintf(&b, "Session `%s`, generated %s.\n\n", r.SessionID, r.GeneratedAt.Format("2006-01-02 15:04 MST"))

	if len(r.Headlines) > 0 {
		b.WriteString("## Unresolved headline contradictions\n\n")
		for _, id := range r.Headlines {
			if ct := findContradiction(r.Contradictions, id); ct != nil {
				fmt.Fprintf(&b, "- **%s** (%s): %q vs %q — %s\n", ct.ID, ct.Type, ct.ClaimA, ct.ClaimB, ct.Assessment)
			}
		}
		b.WriteString("\n")
	}

	writeTier(&b, "Must fix", r.MustFix)
	writeTier(&b, "Should fix", r.ShouldFix)
	writeTier(&b, "Consider", r.Consider)

	if len(r.Contradictions) > 0 {
		b.WriteString("## Contradiction record\n\n")
		for _, ct := range r.Contradictions {
			fmt.Fprintf(&b, "- %s [%s, %s] %s vs %s: %s", ct.ID, ct.Type, ct.Resolution, ct.FindingA, ct.FindingB, ct.Assessment)
			if ct.Conditions != "" {
				fmt.Fprintf(&b, " (holds when: %s)", ct.Conditions)
			}
			if ct.Superseded != "" {
				fmt.Fprintf(&b, " (superseded: %s)", ct.Superseded)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("## Audit trail\n\n")
	if len(r.Discarded) == 0 {
		b.WriteString("Nothing was discarded.\n")
	} else {
		for _, e := range r.Discarded {
			fmt.Fprintf(&b, "- %s discarded at %s: %s\n", e.FindingID, e.Stage, e.Reason)
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func writeTier(b *strings.Builder, title string, tier []model.RankedFinding) {
	fmt.Fprintf(b, "## %s (%d)\n\n", title, len(tier))
	if len(tier) == 0 {
		b.WriteString("None.\n\n")
		return
	}
	for _, rf := range tier {
		f := rf.Finding
		fmt.Fprintf(b, "%d. **%s** [%s, score %.1f, confidence %.2f] %s", rf.Rank, f.ID, f.Severity, rf.Score, f.Confidence, f.Claim)
		if f.Unconfirmed {
			b.WriteString(" _(unconfirmed)_")
		}
		b.WriteString("\n")
		if f.Locator.Subject != "" {
			fmt.Fprintf(b, "   - at %s\n", f.Locator)
		}
		if len(f.MergedFrom) > 0 {
			fmt.Fprintf(b, "   - merged from %s\n", strings.Join(f.MergedFrom, ", "))
		}
		if len(f.SubItems) > 0 {
			fmt.Fprintf(b, "   - sub-items %s\n", strings.Join(f.SubItems, ", "))
		}
		for _, m := range f.Bias {
			fmt.Fprintf(b, "   - bias: %s\n", m)
		}
		for _, n := range f.Notes {
			if n.Delta != 0 {
				fmt.Fprintf(b, "   - %s/%s (%+.2f): %s\n", n.Stage, n.Code, n.Delta, n.Detail)
			} else {
				fmt.Fprintf(b, "   - %s/%s: %s\n", n.Stage, n.Code, n.Detail)
			}
		}
	}
	b.WriteString("\n")
}

func findContradiction(list []model.Contradiction, id string) *model.Contradiction {
	for i := range list {
		if list[i].ID == id {
			return &list[i]
		}
	}
	return nil
}
