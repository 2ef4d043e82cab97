package artifact

import (
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/roomfulmoshe/Vertiport-Planner/internal/adjacency"
	"github.com/roomfulmoshe/Vertiport-Planner/internal/crosswalk"
	"github.com/roomfulmoshe/Vertiport-Planner/internal/demand"
	"github.com/roomfulmoshe/Vertiport-Planner/internal/merge"
)

// Manifest is published next to the universal matrix and records how it
// was produced.
type Manifest struct {
	RunID        string             `yaml:"run_id"`
	GeneratedAt  time.Time          `yaml:"generated_at"`
	DistanceUnit string             `yaml:"distance_unit"`
	Precision    int                `yaml:"precision"`
	Merge        merge.Meta         `yaml:"merge"`
	Sources      []demand.Summary   `yaml:"sources"`
	Crosswalk    *crosswalk.Stats   `yaml:"crosswalk,omitempty"`
	Adjacency    *AdjacencyManifest `yaml:"adjacency,omitempty"`
}

// AdjacencyManifest records the neighbor graph settings.
type AdjacencyManifest struct {
	ThresholdMeters float64 `yaml:"threshold_meters"`
	Policy          string  `yaml:"policy"`
	Convention      string  `yaml:"convention"`
	adjacency.Stats `yaml:",inline"`
}

// WriteManifest writes m as YAML.
func WriteManifest(dir string, m *Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return eris.Wrap(err, "artifact: marshal manifest")
	}
	path := filepath.Join(dir, ManifestFile)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "artifact: create directory for %s", path)
	}
	return eris.Wrapf(os.WriteFile(path, data, 0o644), "artifact: write %s", path)
}

// ReadManifest loads a published manifest.
func ReadManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, ManifestFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "artifact: read %s", path)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrapf(err, "artifact: decode %s", path)
	}
	return &m, nil
}
