// Package ingest normalizes raw producer records into canonical findings.
//
// Producers (search and review agents) are out of scope; they hand over
// free-form key/value records. This package assigns stable identifiers,
// bounds excerpts, and rejects records that lack the required fields —
// a malformed record is logged and excluded, never coerced to a default.
package ingest

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"concord/internal/model"
)

// RawRecord is one producer record as received. At minimum it must carry
// a claim statement and a severity label.
type RawRecord struct {
	Claim      string   `json:"claim"`
	Severity   string   `json:"severity"`
	Locator    string   `json:"locator,omitempty"`
	Pattern    string   `json:"pattern,omitempty"`
	Dependency string   `json:"dependency,omitempty"`
	Channel    string   `json:"channel"`
	Address    string   `json:"address"`
	AccessedAt string   `json:"accessed_at,omitempty"` // RFC3339
	Excerpt    string   `json:"excerpt"`
	Confidence float64  `json:"confidence"`
	Cites      []string `json:"cites,omitempty"`
}

// MalformedRecordError reports a producer record that cannot become a
// finding. The record is dropped and logged, never silently defaulted.
type MalformedRecordError struct {
	Line   int
	Reason string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record at line %d: %s", e.Line, e.Reason)
}

// Normalizer turns raw records into findings with IDs of the form
// {namespace}-{seq:03d}, sequence numbers incrementing per namespace.
type Normalizer struct {
	seq    map[string]int
	logger *slog.Logger
}

// NewNormalizer creates a normalizer with empty per-namespace counters.
func NewNormalizer(logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{seq: make(map[string]int), logger: logger}
}

// Result is the outcome of one ingestion pass: the findings that
// normalized cleanly plus every rejection, so the audit trail can record
// them.
type Result struct {
	Findings []*model.Finding
	Rejected []*MalformedRecordError
}

// Normalize converts one raw record into a finding under the given
// namespace. The line argument is only used for error reporting.
func (n *Normalizer) Normalize(namespace string, line int, rec RawRecord) (*model.Finding, error) {
	if strings.TrimSpace(rec.Claim) == "" {
		return nil, &MalformedRecordError{Line: line, Reason: "missing claim statement"}
	}
	if strings.TrimSpace(rec.Severity) == "" {
		return nil, &MalformedRecordError{Line: line, Reason: "missing severity label"}
	}
	severity, err := model.ParseSeverity(rec.Severity)
	if err != nil {
		return nil, &MalformedRecordError{Line: line, Reason: err.Error()}
	}

	confidence := rec.Confidence
	if confidence < 0 || confidence > 1 {
		return nil, &MalformedRecordError{Line: line, Reason: fmt.Sprintf("confidence %v outside [0.0, 1.0]", confidence)}
	}

	accessedAt := time.Now().UTC()
	if rec.AccessedAt != "" {
		t, err := time.Parse(time.RFC3339, rec.AccessedAt)
		if err != nil {
			return nil, &MalformedRecordError{Line: line, Reason: fmt.Sprintf("bad accessed_at: %v", err)}
		}
		accessedAt = t.UTC()
	}

	n.seq[namespace]++
	seq := n.seq[namespace]

	finding := &model.Finding{
		ID:         fmt.Sprintf("%s-%03d", namespace, seq),
		Namespace:  namespace,
		Seq:        seq,
		Claim:      strings.TrimSpace(rec.Claim),
		Severity:   severity,
		Locator:    model.ParseLocator(rec.Locator),
		Pattern:    strings.TrimSpace(rec.Pattern),
		Dependency: strings.TrimSpace(rec.Dependency),
		Confidence: confidence,
		Status:     model.StatusRaw,
		Blast:      model.BlastSingleLocation,
	}

	if rec.Excerpt != "" || rec.Address != "" {
		finding.Evidence = append(finding.Evidence, model.EvidenceItem{
			Source: model.Source{
				Channel:    strings.TrimSpace(rec.Channel),
				Address:    strings.TrimSpace(rec.Address),
				AccessedAt: accessedAt,
			},
			Excerpt:    model.BoundExcerpt(rec.Excerpt),
			Confidence: confidence,
			Cites:      rec.Cites,
		})
	}

	return finding, nil
}

// NormalizeBatch normalizes a sequence of records under one namespace.
// Malformed records are collected, not fatal.
func (n *Normalizer) NormalizeBatch(namespace string, records []RawRecord) Result {
	var res Result
	for i, rec := range records {
		finding, err := n.Normalize(namespace, i+1, rec)
		if err != nil {
			var malformed *MalformedRecordError
			if !errors.As(err, &malformed) {
				malformed = &MalformedRecordError{Line: i + 1, Reason: err.Error()}
			}
			n.logger.Warn("record rejected", "namespace", namespace, "line", malformed.Line, "reason", malformed.Reason)
			res.Rejected = append(res.Rejected, malformed)
			continue
		}
		res.Findings = append(res.Findings, finding)
	}
	return res
}

// ReadRecords parses newline-delimited JSON records. Blank lines and
// lines starting with # are skipped. A line that fails to parse is a
// malformed record, not a fatal error.
func ReadRecords(r io.Reader) ([]RawRecord, []*MalformedRecordError, error) {
	var (
		records  []RawRecord
		rejected []*MalformedRecordError
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var rec RawRecord
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			rejected = append(rejected, &MalformedRecordError{Line: line, Reason: fmt.Sprintf("invalid JSON: %v", err)})
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("scan records: %w", err)
	}
	return records, rejected, nil
}
