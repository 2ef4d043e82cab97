package merge

// Meta records how a matrix was produced. It is published next to the
// matrix so the selected policy is never implicit.
type Meta struct {
	Policy          string             `json:"policy" yaml:"policy"`
	Directional     bool               `json:"directional" yaml:"directional"`
	ExcludeAdjacent bool               `json:"exclude_adjacent_pairs" yaml:"exclude_adjacent_pairs"`
	ExcludeSelf     bool               `json:"exclude_self_pairs" yaml:"exclude_self_pairs"`
	Precedence      []string           `json:"precedence,omitempty" yaml:"precedence,omitempty"`
	Weights         map[string]float64 `json:"weights,omitempty" yaml:"weights,omitempty"`
	Peaks           map[string]float64 `json:"peaks,omitempty" yaml:"peaks,omitempty"`
	DistanceMethod  string             `json:"distance_method" yaml:"distance_method"`
	Sources         []string           `json:"sources" yaml:"sources"`

	InputRecords        int     `json:"input_records" yaml:"input_records"`
	InputMass           float64 `json:"input_mass" yaml:"input_mass"`
	Entries             int     `json:"entries" yaml:"entries"`
	OutputMass          float64 `json:"output_mass" yaml:"output_mass"`
	DroppedSelf         int     `json:"dropped_self" yaml:"dropped_self"`
	DroppedSelfMass     float64 `json:"dropped_self_mass" yaml:"dropped_self_mass"`
	DroppedAdjacent     int     `json:"dropped_adjacent" yaml:"dropped_adjacent"`
	DroppedAdjacentMass float64 `json:"dropped_adjacent_mass" yaml:"dropped_adjacent_mass"`
	FlaggedAdjacent     int     `json:"flagged_adjacent" yaml:"flagged_adjacent"`

	Overlap Overlap `json:"overlap" yaml:"overlap"`
}

// Overlap describes how sources cover the same pairs.
type Overlap struct {
	// SharedPairs is the number of pairs reported by two or more sources.
	SharedPairs int `json:"shared_pairs" yaml:"shared_pairs"`
	// UniquePairs counts, per source, the pairs no other source reports.
	UniquePairs map[string]int `json:"unique_pairs" yaml:"unique_pairs"`
}

func overlapStats(entries []Entry, sources []string) Overlap {
	o := Overlap{UniquePairs: make(map[string]int, len(sources))}
	for _, s := range sources {
		o.UniquePairs[s] = 0
	}
	for _, e := range entries {
		switch len(e.Counts) {
		case 0:
		case 1:
			for s := range e.Counts {
				o.UniquePairs[s]++
			}
		default:
			o.SharedPairs++
		}
	}
	return o
}
