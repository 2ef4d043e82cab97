package demand

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/roomfulmoshe/Vertiport-Planner/internal/config"
	"github.com/roomfulmoshe/Vertiport-Planner/internal/source"
)

// timestampLayouts are tried in order when reading duration filter fields.
var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"01/02/2006 03:04:05 PM",
	"01/02/2006 15:04",
	"2006-01-02 15:04",
}

// filter keeps a row when a value lies within bounds. The value is either a
// numeric column or the minutes elapsed between two timestamp columns.
type filter struct {
	cfg        config.FilterConfig
	field      int
	start, end int
}

func compileFilters(t *source.Table, cfgs []config.FilterConfig) ([]filter, string) {
	out := make([]filter, 0, len(cfgs))
	for _, c := range cfgs {
		f := filter{cfg: c, field: -1, start: -1, end: -1}
		if c.Field != "" {
			if f.field = t.Column(c.Field); f.field < 0 {
				return nil, c.Field
			}
		} else {
			if f.start = t.Column(c.StartField); f.start < 0 {
				return nil, c.StartField
			}
			if f.end = t.Column(c.EndField); f.end < 0 {
				return nil, c.EndField
			}
		}
		out = append(out, f)
	}
	return out, ""
}

// keep reports whether row passes. Unreadable values fail the filter.
func (f filter) keep(row []string) bool {
	v, ok := f.value(row)
	if !ok {
		return false
	}
	if m := f.cfg.Min; m != nil {
		if v < *m || (f.cfg.MinExclusive && v == *m) {
			return false
		}
	}
	if m := f.cfg.Max; m != nil {
		if v > *m || (f.cfg.MaxExclusive && v == *m) {
			return false
		}
	}
	return true
}

func (f filter) value(row []string) (float64, bool) {
	if f.field >= 0 {
		if f.field >= len(row) {
			return 0, false
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(row[f.field]), 64)
		if err != nil || math.IsNaN(v) {
			return 0, false
		}
		return v, true
	}
	if f.start >= len(row) || f.end >= len(row) {
		return 0, false
	}
	start, ok := parseTimestamp(row[f.start])
	if !ok {
		return 0, false
	}
	end, ok := parseTimestamp(row[f.end])
	if !ok {
		return 0, false
	}
	return end.Sub(start).Minutes(), true
}

func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
