// Package demand normalizes raw origin-destination tables into tract-keyed
// demand records.
package demand

import (
	"cmp"
	"slices"

	"github.com/roomfulmoshe/Vertiport-Planner/internal/geometry"
)

// Record is one normalized flow. Records sharing an origin and destination
// are kept apart; summing happens in the merge stage.
type Record struct {
	Origin      string
	Destination string
	Count       float64
	Source      string
	Category    string
	Period      string
}

// CompareRecords orders records by origin, destination, source and count.
func CompareRecords(a, b Record) int {
	if n := geometry.CompareIDs(a.Origin, b.Origin); n != 0 {
		return n
	}
	if n := geometry.CompareIDs(a.Destination, b.Destination); n != 0 {
		return n
	}
	if n := cmp.Compare(a.Source, b.Source); n != 0 {
		return n
	}
	if n := cmp.Compare(a.Period, b.Period); n != 0 {
		return n
	}
	return cmp.Compare(a.Count, b.Count)
}

// SortRecords puts records in canonical order in place.
func SortRecords(records []Record) {
	slices.SortFunc(records, CompareRecords)
}

// Summary accounts for every data row of one source.
type Summary struct {
	Source string `json:"source" yaml:"source"`
	// Rows is the number of non-blank data rows.
	Rows int `json:"rows" yaml:"rows"`
	// Skipped rows failed schema checks.
	Skipped int `json:"skipped" yaml:"skipped"`
	// Filtered rows failed a configured filter.
	Filtered int `json:"filtered" yaml:"filtered"`
	// SameKey rows had identical origin and destination keys and were excluded.
	SameKey int `json:"same_key" yaml:"same_key"`
	// Unmapped rows had a key with no tract mapping.
	Unmapped int `json:"unmapped" yaml:"unmapped"`
	// Records is the number of emitted records.
	Records int `json:"records" yaml:"records"`

	InputMass    float64 `json:"input_mass" yaml:"input_mass"`
	UnmappedMass float64 `json:"unmapped_mass" yaml:"unmapped_mass"`
	OutputMass   float64 `json:"output_mass" yaml:"output_mass"`
}

// CoverageLoss is the mass of mapped rows that fell on zone area outside
// every tract.
func (s Summary) CoverageLoss() float64 {
	loss := s.InputMass - s.UnmappedMass - s.OutputMass
	if loss < 0 {
		return 0
	}
	return loss
}

func (s *Summary) add(o Summary) {
	s.Rows += o.Rows
	s.Skipped += o.Skipped
	s.Filtered += o.Filtered
	s.SameKey += o.SameKey
	s.Unmapped += o.Unmapped
	s.Records += o.Records
	s.InputMass += o.InputMass
	s.UnmappedMass += o.UnmappedMass
	s.OutputMass += o.OutputMass
}
