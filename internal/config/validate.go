package config

import (
	"fmt"
	"math"
	"strings"

	"github.com/roomfulmoshe/Vertiport-Planner/internal/fault"
)

// Recognized option values.
var (
	mergePolicies       = []string{"sum", "prefer", "separate", "weighted"}
	adjacencyPolicies   = []string{"centroid", "boundary"}
	representativeModes = []string{"centroid", "interior"}
	keySpaces           = []string{"zone", "tract"}
	granularities       = []string{"trip", "aggregate"}
	sourceFormats       = []string{"", "csv", "xlsx"}
	sourceEncodings     = []string{"", "utf-8", "latin1"}
	distanceUnits       = []string{"m", "km", "mi"}
	neighborConventions = []string{"once", "both"}
)

// Validate checks every recognized option and returns the first problem as a
// *fault.ConfigurationError. It performs no I/O.
func (c *Config) Validate() error {
	if err := validateCollection("geometry.zones", c.Geometry.Zones); err != nil {
		return err
	}
	if err := validateCollection("geometry.tracts", c.Geometry.Tracts); err != nil {
		return err
	}
	if !oneOf(c.Geometry.RepresentativePoint, representativeModes) {
		return fault.NewConfigurationError("geometry.representative_point", "must be one of %s, got %q",
			strings.Join(representativeModes, "|"), c.Geometry.RepresentativePoint)
	}

	if c.Crosswalk.Epsilon < 0 || c.Crosswalk.Epsilon >= 1 || math.IsNaN(c.Crosswalk.Epsilon) {
		return fault.NewConfigurationError("crosswalk.epsilon", "must be in [0,1), got %v", c.Crosswalk.Epsilon)
	}
	if c.Crosswalk.MinWeight < 0 || c.Crosswalk.MinWeight >= 1 {
		return fault.NewConfigurationError("crosswalk.min_weight", "must be in [0,1), got %v", c.Crosswalk.MinWeight)
	}

	if !(c.Adjacency.ThresholdDistance > 0) || math.IsInf(c.Adjacency.ThresholdDistance, 0) {
		return fault.NewConfigurationError("adjacency.threshold_distance", "must be a positive distance in meters, got %v",
			c.Adjacency.ThresholdDistance)
	}
	if !oneOf(c.Adjacency.Policy, adjacencyPolicies) {
		return fault.NewConfigurationError("adjacency.policy", "must be one of %s, got %q",
			strings.Join(adjacencyPolicies, "|"), c.Adjacency.Policy)
	}

	if len(c.Sources) == 0 {
		return fault.NewConfigurationError("sources", "at least one OD source is required")
	}
	seen := make(map[string]bool, len(c.Sources))
	for i, s := range c.Sources {
		if err := validateSource(i, s); err != nil {
			return err
		}
		// viper lowercases map keys, so names are compared case-insensitively.
		key := strings.ToLower(s.Name)
		if seen[key] {
			return fault.NewConfigurationError(fmt.Sprintf("sources[%d].name", i), "duplicate source name %q", s.Name)
		}
		seen[key] = true
	}

	if err := c.validateMerge(seen); err != nil {
		return err
	}

	if strings.TrimSpace(c.Output.Dir) == "" {
		return fault.NewConfigurationError("output.dir", "is required")
	}
	if !oneOf(c.Output.DistanceUnit, distanceUnits) {
		return fault.NewConfigurationError("output.distance_unit", "must be one of %s, got %q",
			strings.Join(distanceUnits, "|"), c.Output.DistanceUnit)
	}
	if c.Output.Precision < 0 || c.Output.Precision > 15 {
		return fault.NewConfigurationError("output.precision", "must be in [0,15], got %d", c.Output.Precision)
	}
	if !oneOf(c.Output.NeighborConvention, neighborConventions) {
		return fault.NewConfigurationError("output.neighbor_convention", "must be one of %s, got %q",
			strings.Join(neighborConventions, "|"), c.Output.NeighborConvention)
	}
	if c.Output.XLSXTopN < 0 {
		return fault.NewConfigurationError("output.xlsx_top_n", "must not be negative")
	}
	if c.Output.S3.Bucket == "" && (c.Output.S3.Prefix != "" || c.Output.S3.Endpoint != "") {
		return fault.NewConfigurationError("output.s3.bucket", "is required when other s3 options are set")
	}

	if c.Pipeline.Workers < 1 {
		return fault.NewConfigurationError("pipeline.workers", "must be at least 1, got %d", c.Pipeline.Workers)
	}
	if c.Pipeline.SkipTolerance < 0 || c.Pipeline.SkipTolerance > 1 {
		return fault.NewConfigurationError("pipeline.skip_tolerance", "must be in [0,1], got %v", c.Pipeline.SkipTolerance)
	}
	return nil
}

func validateCollection(prefix string, cc CollectionConfig) error {
	if strings.TrimSpace(cc.Path) == "" {
		return fault.NewConfigurationError(prefix+".path", "is required")
	}
	if strings.TrimSpace(cc.IDField) == "" {
		return fault.NewConfigurationError(prefix+".id_field", "is required")
	}
	if cc.IDWidth < 0 {
		return fault.NewConfigurationError(prefix+".id_width", "must not be negative")
	}
	if cc.IDSuffix < 0 {
		return fault.NewConfigurationError(prefix+".id_suffix", "must not be negative")
	}
	return nil
}

func validateSource(i int, s SourceConfig) error {
	opt := func(name string) string { return fmt.Sprintf("sources[%d].%s", i, name) }

	if strings.TrimSpace(s.Name) == "" {
		return fault.NewConfigurationError(opt("name"), "is required")
	}
	// The name becomes a file name under normalized/.
	if strings.ContainsAny(s.Name, `/\`) || strings.Contains(s.Name, "..") {
		return fault.NewConfigurationError(opt("name"), "must not contain path separators, got %q", s.Name)
	}
	if strings.TrimSpace(s.Path) == "" {
		return fault.NewConfigurationError(opt("path"), "is required")
	}
	if s.OriginField == "" {
		return fault.NewConfigurationError(opt("origin_field"), "is required")
	}
	if s.DestinationField == "" {
		return fault.NewConfigurationError(opt("destination_field"), "is required")
	}
	if !oneOf(s.KeySpace, keySpaces) {
		return fault.NewConfigurationError(opt("key_space"), "must be one of %s, got %q",
			strings.Join(keySpaces, "|"), s.KeySpace)
	}
	if !oneOf(s.Granularity, granularities) {
		return fault.NewConfigurationError(opt("granularity"), "must be one of %s, got %q",
			strings.Join(granularities, "|"), s.Granularity)
	}
	if s.CountField == "" && s.Granularity != "trip" {
		return fault.NewConfigurationError(opt("count_field"), "is required for aggregate sources")
	}
	if !oneOf(strings.ToLower(s.Format), sourceFormats) {
		return fault.NewConfigurationError(opt("format"), "must be csv or xlsx, got %q", s.Format)
	}
	if !oneOf(strings.ToLower(s.Encoding), sourceEncodings) {
		return fault.NewConfigurationError(opt("encoding"), "must be utf-8 or latin1, got %q", s.Encoding)
	}
	delim, ok := ParseRune(s.Delimiter)
	if !ok || delim == '"' || delim == '\r' || delim == '\n' {
		return fault.NewConfigurationError(opt("delimiter"), "must be a single character or \"tab\", got %q", s.Delimiter)
	}
	comment, ok := ParseRune(s.Comment)
	if !ok || (comment != 0 && comment == delim) {
		return fault.NewConfigurationError(opt("comment"), "must be a single character other than the delimiter, got %q", s.Comment)
	}
	if s.SheetIndex < 0 {
		return fault.NewConfigurationError(opt("sheet_index"), "must not be negative")
	}
	if s.TractKey.Width < 0 || s.TractKey.Suffix < 0 || s.TractKey.Truncate < 0 {
		return fault.NewConfigurationError(opt("tract_key"), "truncate, width and suffix must not be negative")
	}
	for j, f := range s.Filters {
		fopt := opt(fmt.Sprintf("filters[%d]", j))
		hasField := f.Field != ""
		hasSpan := f.StartField != "" || f.EndField != ""
		switch {
		case hasField && hasSpan:
			return fault.NewConfigurationError(fopt, "field and start_field/end_field are mutually exclusive")
		case !hasField && !hasSpan:
			return fault.NewConfigurationError(fopt, "field or start_field/end_field is required")
		case hasSpan && (f.StartField == "" || f.EndField == ""):
			return fault.NewConfigurationError(fopt, "start_field and end_field must both be set")
		}
		if f.Min == nil && f.Max == nil {
			return fault.NewConfigurationError(fopt, "min or max is required")
		}
		if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
			return fault.NewConfigurationError(fopt, "min %v exceeds max %v", *f.Min, *f.Max)
		}
	}
	return nil
}

func (c *Config) validateMerge(sources map[string]bool) error {
	if !oneOf(c.Merge.Policy, mergePolicies) {
		return fault.NewConfigurationError("merge.policy", "must be one of %s, got %q",
			strings.Join(mergePolicies, "|"), c.Merge.Policy)
	}
	for _, name := range c.Merge.Precedence {
		if !sources[strings.ToLower(name)] {
			return fault.NewConfigurationError("merge.precedence", "unknown source %q", name)
		}
	}
	for name, w := range c.Merge.Weights {
		if !sources[strings.ToLower(name)] {
			return fault.NewConfigurationError("merge.weights", "unknown source %q", name)
		}
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return fault.NewConfigurationError("merge.weights", "weight for %q must be a non-negative number", name)
		}
	}
	return nil
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// ParseRune reads a one-character option. Empty yields 0; "tab" and "\t"
// yield a tab.
func ParseRune(s string) (rune, bool) {
	switch s {
	case "":
		return 0, true
	case "tab", `\t`:
		return '\t', true
	}
	r := []rune(s)
	if len(r) != 1 {
		return 0, false
	}
	return r[0], true
}
