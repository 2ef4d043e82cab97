package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// MetersPerMile converts the default one-mile adjacency threshold.
const MetersPerMile = 1609.34

// Config holds the full application configuration.
type Config struct {
	Geometry  GeometryConfig  `yaml:"geometry" mapstructure:"geometry"`
	Crosswalk CrosswalkConfig `yaml:"crosswalk" mapstructure:"crosswalk"`
	Adjacency AdjacencyConfig `yaml:"adjacency" mapstructure:"adjacency"`
	Sources   []SourceConfig  `yaml:"sources" mapstructure:"sources"`
	Merge     MergeConfig     `yaml:"merge" mapstructure:"merge"`
	Output    OutputConfig    `yaml:"output" mapstructure:"output"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	RunLog    RunLogConfig    `yaml:"runlog" mapstructure:"runlog"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// GeometryConfig locates the two polygon collections.
type GeometryConfig struct {
	Zones               CollectionConfig `yaml:"zones" mapstructure:"zones"`
	Tracts              CollectionConfig `yaml:"tracts" mapstructure:"tracts"`
	RepresentativePoint string           `yaml:"representative_point" mapstructure:"representative_point"`
}

// CollectionConfig describes one polygon file (shapefile, zipped shapefile or GeoJSON).
type CollectionConfig struct {
	Path        string `yaml:"path" mapstructure:"path"`
	IDField     string `yaml:"id_field" mapstructure:"id_field"`
	RegionField string `yaml:"region_field" mapstructure:"region_field"`
	// CRS overrides the reference read from the file (".prj" or GeoJSON "crs").
	CRS string `yaml:"crs" mapstructure:"crs"`
	// IDWidth left-pads identifiers with zeros to a fixed width.
	IDWidth int `yaml:"id_width" mapstructure:"id_width"`
	// IDSuffix keeps only the trailing N characters of an identifier.
	IDSuffix int  `yaml:"id_suffix" mapstructure:"id_suffix"`
	Dissolve bool `yaml:"dissolve" mapstructure:"dissolve"`
}

// CrosswalkConfig tunes zone/tract apportionment.
type CrosswalkConfig struct {
	Epsilon     float64 `yaml:"epsilon" mapstructure:"epsilon"`
	MinWeight   float64 `yaml:"min_weight" mapstructure:"min_weight"`
	Renormalize bool    `yaml:"renormalize" mapstructure:"renormalize"`
}

// AdjacencyConfig tunes the neighbor graph.
type AdjacencyConfig struct {
	ThresholdDistance float64 `yaml:"threshold_distance" mapstructure:"threshold_distance"`
	Policy            string  `yaml:"policy" mapstructure:"policy"`
}

// SourceConfig declares one raw OD table and how to read it.
type SourceConfig struct {
	Name             string         `yaml:"name" mapstructure:"name"`
	Path             string         `yaml:"path" mapstructure:"path"`
	Category         string         `yaml:"category" mapstructure:"category"`
	Granularity      string         `yaml:"granularity" mapstructure:"granularity"`
	Period           string         `yaml:"period" mapstructure:"period"`
	Format           string         `yaml:"format" mapstructure:"format"`
	Encoding         string         `yaml:"encoding" mapstructure:"encoding"`
	Sheet            string         `yaml:"sheet" mapstructure:"sheet"`
	SheetIndex       int            `yaml:"sheet_index" mapstructure:"sheet_index"`
	Delimiter        string         `yaml:"delimiter" mapstructure:"delimiter"`
	Comment          string         `yaml:"comment" mapstructure:"comment"`
	TrimSpace        bool           `yaml:"trim_space" mapstructure:"trim_space"`
	OriginField      string         `yaml:"origin_field" mapstructure:"origin_field"`
	DestinationField string         `yaml:"destination_field" mapstructure:"destination_field"`
	CountField       string         `yaml:"count_field" mapstructure:"count_field"`
	KeySpace         string         `yaml:"key_space" mapstructure:"key_space"`
	TractKey         TractKeyConfig `yaml:"tract_key" mapstructure:"tract_key"`
	Filters          []FilterConfig `yaml:"filters" mapstructure:"filters"`
	ExcludeSameKey   bool           `yaml:"exclude_same_key" mapstructure:"exclude_same_key"`
}

// TractKeyConfig rewrites raw tract keys into the tract identifier space.
type TractKeyConfig struct {
	// Truncate keeps the leading N characters (block GEOID to tract GEOID).
	Truncate int `yaml:"truncate" mapstructure:"truncate"`
	Width    int `yaml:"width" mapstructure:"width"`
	Suffix   int `yaml:"suffix" mapstructure:"suffix"`
	// CountyPrefix maps a 5-digit state+county GEOID prefix to a replacement
	// (e.g. "36061" -> "1" for Manhattan borough codes).
	CountyPrefix map[string]string `yaml:"county_prefix" mapstructure:"county_prefix"`
}

// FilterConfig keeps a row only when a numeric field (or the minutes between
// two timestamp fields) falls within bounds.
type FilterConfig struct {
	Field        string   `yaml:"field" mapstructure:"field"`
	StartField   string   `yaml:"start_field" mapstructure:"start_field"`
	EndField     string   `yaml:"end_field" mapstructure:"end_field"`
	Min          *float64 `yaml:"min" mapstructure:"min"`
	Max          *float64 `yaml:"max" mapstructure:"max"`
	MinExclusive bool     `yaml:"min_exclusive" mapstructure:"min_exclusive"`
	MaxExclusive bool     `yaml:"max_exclusive" mapstructure:"max_exclusive"`
}

// MergeConfig selects the cross-source combination rules.
type MergeConfig struct {
	Policy               string             `yaml:"policy" mapstructure:"policy"`
	ExcludeAdjacentPairs bool               `yaml:"exclude_adjacent_pairs" mapstructure:"exclude_adjacent_pairs"`
	ExcludeSelfPairs     bool               `yaml:"exclude_self_pairs" mapstructure:"exclude_self_pairs"`
	Directional          bool               `yaml:"directional" mapstructure:"directional"`
	Precedence           []string           `yaml:"precedence" mapstructure:"precedence"`
	Weights              map[string]float64 `yaml:"weights" mapstructure:"weights"`
}

// OutputConfig controls where and how artifacts are published.
type OutputConfig struct {
	Dir                string   `yaml:"dir" mapstructure:"dir"`
	DistanceUnit       string   `yaml:"distance_unit" mapstructure:"distance_unit"`
	Precision          int      `yaml:"precision" mapstructure:"precision"`
	NeighborConvention string   `yaml:"neighbor_convention" mapstructure:"neighbor_convention"`
	XLSXTopN           int      `yaml:"xlsx_top_n" mapstructure:"xlsx_top_n"`
	S3                 S3Config `yaml:"s3" mapstructure:"s3"`
}

// S3Config configures the optional artifact mirror.
type S3Config struct {
	Bucket   string `yaml:"bucket" mapstructure:"bucket"`
	Prefix   string `yaml:"prefix" mapstructure:"prefix"`
	Region   string `yaml:"region" mapstructure:"region"`
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
}

// PipelineConfig configures stage execution.
type PipelineConfig struct {
	Workers       int     `yaml:"workers" mapstructure:"workers"`
	SkipTolerance float64 `yaml:"skip_tolerance" mapstructure:"skip_tolerance"`
}

// RunLogConfig locates the SQLite run ledger. An empty path disables it.
type RunLogConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment. When path is empty
// the first config.yaml found in the working directory is used, if any.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("VERTIPORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("geometry.zones.id_field", "LocationID")
	v.SetDefault("geometry.tracts.id_field", "BoroCT2020")
	v.SetDefault("geometry.representative_point", "centroid")
	v.SetDefault("crosswalk.epsilon", 1e-9)
	v.SetDefault("crosswalk.min_weight", 0.0)
	v.SetDefault("crosswalk.renormalize", false)
	v.SetDefault("adjacency.threshold_distance", MetersPerMile)
	v.SetDefault("adjacency.policy", "centroid")
	v.SetDefault("merge.policy", "sum")
	v.SetDefault("merge.exclude_adjacent_pairs", false)
	v.SetDefault("merge.exclude_self_pairs", false)
	v.SetDefault("merge.directional", true)
	v.SetDefault("output.dir", "output")
	v.SetDefault("output.distance_unit", "m")
	v.SetDefault("output.precision", 6)
	v.SetDefault("output.neighbor_convention", "once")
	v.SetDefault("output.xlsx_top_n", 0)
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.skip_tolerance", 0.01)
	v.SetDefault("runlog.path", "output/runs.db")

	// Read config file (optional when no explicit path was given)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
