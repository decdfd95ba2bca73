// Package evidence keeps the append-only table of evidence items with
// their provenance. Items attach to exactly one finding and never move
// or disappear; the merge stage folds a discarded member's items into
// the representative by appending, not by re-homing rows here.
package evidence

import (
	"errors"
	"fmt"
	"sort"

	"concord/internal/model"
)

// ErrUnknownFinding is returned when appending evidence for a finding
// the store has never seen.
var ErrUnknownFinding = errors.New("unknown finding")

// Row is one stored evidence item plus its provenance.
type Row struct {
	Seq       int                `json:"seq"` // global append order
	FindingID string             `json:"finding_id"`
	Item      model.EvidenceItem `json:"item"`
}

// Store is the append-only evidence table.
type Store struct {
	rows    []Row
	byID    map[string][]int // finding ID -> row indexes
	known   map[string]bool
	nextSeq int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		byID:  make(map[string][]int),
		known: make(map[string]bool),
	}
}

// Register makes a finding known to the store and appends its initial
// evidence items.
func (s *Store) Register(f *model.Finding) {
	s.known[f.ID] = true
	for _, item := range f.Evidence {
		s.append(f.ID, item)
	}
}

// Append attaches one more item to an already-registered finding.
func (s *Store) Append(findingID string, item model.EvidenceItem) error {
	if !s.known[findingID] {
		return fmt.Errorf("append evidence for %s: %w", findingID, ErrUnknownFinding)
	}
	s.append(findingID, item)
	return nil
}

func (s *Store) append(findingID string, item model.EvidenceItem) {
	s.nextSeq++
	item.Excerpt = model.BoundExcerpt(item.Excerpt)
	s.rows = append(s.rows, Row{Seq: s.nextSeq, FindingID: findingID, Item: item})
	s.byID[findingID] = append(s.byID[findingID], len(s.rows)-1)
}

// ByFinding returns the items attached to a finding in append order.
func (s *Store) ByFinding(findingID string) []model.EvidenceItem {
	idxs := s.byID[findingID]
	items := make([]model.EvidenceItem, 0, len(idxs))
	for _, i := range idxs {
		items = append(items, s.rows[i].Item)
	}
	return items
}

// Len returns the total number of stored items.
func (s *Store) Len() int { return len(s.rows) }

// Origins returns the distinct origins seen across the whole store,
// sorted for stable output.
func (s *Store) Origins() []model.Source {
	seen := make(map[string]model.Source)
	for _, row := range s.rows {
		key := row.Item.Source.Channel + "\x00" + row.Item.Source.Address
		if _, ok := seen[key]; !ok {
			seen[key] = row.Item.Source
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	origins := make([]model.Source, 0, len(keys))
	for _, k := range keys {
		origins = append(origins, seen[k])
	}
	return origins
}
