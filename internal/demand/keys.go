package demand

import (
	"strings"

	"github.com/roomfulmoshe/Vertiport-Planner/internal/config"
	"github.com/roomfulmoshe/Vertiport-Planner/internal/geometry"
)

// countyPrefixLen is the length of a state+county GEOID prefix.
const countyPrefixLen = 5

// keyRewriter maps raw tract keys into the tract identifier space.
type keyRewriter struct {
	cfg config.TractKeyConfig
}

// rewrite returns the tract identifier for a raw key and whether the key
// maps into the configured area. Steps run in order: numeric cleanup,
// truncation, county prefix replacement, then suffix and width.
func (k keyRewriter) rewrite(raw string) (string, bool) {
	key := geometry.NormalizeID(raw, 0, 0)
	if key == "" {
		return "", false
	}
	if k.cfg.Truncate > 0 && len(key) > k.cfg.Truncate {
		key = key[:k.cfg.Truncate]
	}
	if len(k.cfg.CountyPrefix) > 0 {
		if len(key) < countyPrefixLen {
			return "", false
		}
		repl, ok := k.cfg.CountyPrefix[key[:countyPrefixLen]]
		if !ok {
			return "", false
		}
		key = repl + key[countyPrefixLen:]
	}
	return geometry.NormalizeID(key, k.cfg.Width, k.cfg.Suffix), true
}

// zoneKey cleans a raw zone key ("12.0" and " 12" both become "12").
func zoneKey(raw string) string {
	return geometry.NormalizeID(strings.TrimSpace(raw), 0, 0)
}
