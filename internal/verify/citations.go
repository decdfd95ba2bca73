package verify

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"concord/internal/model"
)

// CitationStatus is the outcome of verifying one citation anchor.
type CitationStatus string

const (
	CitationVerified     CitationStatus = "VERIFIED"     // claimed excerpt appears at the address
	CitationApproximate  CitationStatus = "APPROXIMATE"  // close but not exact: -0.05 confidence
	CitationMismatch     CitationStatus = "MISMATCH"     // address reachable, excerpt absent: downgrade to DISPROVEN
	CitationUnverifiable CitationStatus = "UNVERIFIABLE" // address unreachable: confidence unchanged, noted
)

// CitationUnreachableError marks an address that could not be fetched.
// It is recovered locally — the item becomes UNVERIFIABLE, never a
// pipeline failure.
type CitationUnreachableError struct {
	Address string
	Err     error
}

func (e *CitationUnreachableError) Error() string {
	return fmt.Sprintf("citation %s unreachable: %v", e.Address, e.Err)
}

func (e *CitationUnreachableError) Unwrap() error { return e.Err }

// approximateOverlap is the token overlap at which a non-exact excerpt
// still counts as approximately present.
const approximateOverlap = 0.7

// CitationCheck is the result for one evidence item.
type CitationCheck struct {
	Address string
	Status  CitationStatus
	Detail  string
}

// CheckCitations re-fetches every address a finding cites and checks
// whether the claimed excerpt actually appears there.
func CheckCitations(ctx context.Context, f *model.Finding, fetcher Fetcher) []CitationCheck {
	var checks []CitationCheck
	for _, item := range f.Evidence {
		if item.Source.Address == "" || item.Excerpt == "" {
			continue
		}
		checks = append(checks, checkAnchor(ctx, item, fetcher))
	}
	return checks
}

func checkAnchor(ctx context.Context, item model.EvidenceItem, fetcher Fetcher) CitationCheck {
	check := CitationCheck{Address: item.Source.Address}

	body, err := fetcher.Fetch(ctx, item.Source.Address)
	if err != nil {
		check.Status = CitationUnverifiable
		check.Detail = (&CitationUnreachableError{Address: item.Source.Address, Err: err}).Error()
		return check
	}

	text := normalizeText(extractText(body))
	excerpt := normalizeText(item.Excerpt)

	switch {
	case strings.Contains(text, excerpt):
		check.Status = CitationVerified
		check.Detail = "claimed excerpt appears verbatim at the address"
	case excerptOverlap(text, excerpt) >= approximateOverlap:
		check.Status = CitationApproximate
		check.Detail = "claimed excerpt appears in close but not exact form"
	default:
		check.Status = CitationMismatch
		check.Detail = "address reachable but the claimed excerpt does not appear there"
	}
	return check
}

// extractText flattens an HTML document to visible text. Non-HTML
// bodies pass through unchanged.
func extractText(body string) string {
	if !strings.Contains(body, "<") {
		return body
	}
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return body
	}
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return sb.String()
}

var spaceRe = regexp.MustCompile(`\s+`)

func normalizeText(s string) string {
	return strings.ToLower(strings.TrimSpace(spaceRe.ReplaceAllString(s, " ")))
}

// excerptOverlap measures how much of the excerpt's token sequence
// appears in the page text.
func excerptOverlap(text, excerpt string) float64 {
	words := strings.Fields(excerpt)
	if len(words) == 0 {
		return 0
	}
	found := 0
	for _, w := range words {
		if strings.Contains(text, w) {
			found++
		}
	}
	return float64(found) / float64(len(words))
}
