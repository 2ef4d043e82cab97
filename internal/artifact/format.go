// Package artifact writes and reads the published stage outputs: CSV
// tables, the neighbor adjacency list, the run manifest and the XLSX
// summary.
package artifact

import (
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/roomfulmoshe/Vertiport-Planner/internal/config"
)

// Distance units.
const (
	UnitMeters     = "m"
	UnitKilometers = "km"
	UnitMiles      = "mi"
)

// Published file names, relative to the output directory.
const (
	TractsFile        = "tracts.csv"
	CrosswalkFile     = "crosswalk.csv"
	UnmatchedFile     = "unmatched_zones.csv"
	NeighborsFile     = "neighbors.csv"
	NeighborsJSONFile = "neighbors.json"
	NormalizedDir     = "normalized"
	UniversalFile     = "universal_demand.csv"
	ManifestFile      = "universal_demand.meta.yaml"
	TopXLSXFile       = "universal_demand_top.xlsx"
)

// Neighbor table conventions.
const (
	NeighborsOnce = "once"
	NeighborsBoth = "both"
)

// Format renders numbers for published tables. Values stay float64 until
// they are formatted here.
type Format struct {
	Unit      string
	Precision int
}

// FormatFromConfig builds a Format from the output configuration.
func FormatFromConfig(cfg config.OutputConfig) Format {
	return Format{Unit: cfg.DistanceUnit, Precision: cfg.Precision}
}

// metersPer returns the number of meters in one unit.
func (f Format) metersPer() float64 {
	switch f.Unit {
	case UnitKilometers:
		return 1000
	case UnitMiles:
		return config.MetersPerMile
	default:
		return 1
	}
}

func (f Format) unit() string {
	if f.Unit == "" {
		return UnitMeters
	}
	return f.Unit
}

// DistanceHeader is the column name carrying distances, e.g. "distance_km".
func (f Format) DistanceHeader() string {
	return "distance_" + f.unit()
}

// Distance converts meters to the output unit and formats the result.
func (f Format) Distance(meters float64) string {
	return f.Count(meters / f.metersPer())
}

// DistanceValue converts meters to the output unit.
func (f Format) DistanceValue(meters float64) float64 {
	return meters / f.metersPer()
}

// ParseDistance reads a formatted distance back into meters.
func (f Format) ParseDistance(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "artifact: parse distance %q", s)
	}
	return v * f.metersPer(), nil
}

// Count formats a count with the configured number of decimals. A negative
// precision keeps the shortest exact representation.
func (f Format) Count(v float64) string {
	s := strconv.FormatFloat(v, 'f', f.Precision, 64)
	if s[0] == '-' && isZero(s[1:]) {
		return s[1:]
	}
	return s
}

// exact formats a value so that it parses back to the same float64.
func exact(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func isZero(s string) bool {
	for _, r := range s {
		if r != '0' && r != '.' {
			return false
		}
	}
	return true
}
