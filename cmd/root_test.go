//go:build !integration

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomfulmoshe/Vertiport-Planner/internal/config"
	"github.com/roomfulmoshe/Vertiport-Planner/internal/fault"
	"github.com/roomfulmoshe/Vertiport-Planner/internal/pipeline"
	"github.com/roomfulmoshe/Vertiport-Planner/internal/runlog"
)

// execute runs the root command with args and returns what it printed.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
		configPath = ""
	})
	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"build", "validate", "runs", "neighbors"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "vertiport", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
	require.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
}

func TestBuildCommand_Flags(t *testing.T) {
	require.NotNil(t, buildCmd.Flags().Lookup("stages"))
	flag := buildCmd.Flags().Lookup("resume")
	require.NotNil(t, flag)
	assert.Equal(t, "false", flag.DefValue)
}

const validateConfig = `
geometry:
  zones: {path: zones.geojson}
  tracts: {path: tracts.geojson}
sources:
  - name: taxi
    path: taxi.csv
    origin_field: PULocationID
    destination_field: DOLocationID
    key_space: zone
    granularity: trip
merge:
  policy: %s
log:
  level: error
  format: console
`

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, filepath.Join(dir, "config.yaml"), fmt.Sprintf(validateConfig, "prefer"))

	out, err := execute(t, "--config", path, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "configuration ok: 1 sources, merge policy prefer")
}

func TestValidateCommand_Invalid(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, filepath.Join(dir, "config.yaml"), fmt.Sprintf(validateConfig, "average"))

	_, err := execute(t, "--config", path, "validate")
	require.Error(t, err)
	var ce *fault.ConfigurationError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "merge.policy", ce.Option)
}

func TestBuildCommand_UnknownStage(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, filepath.Join(dir, "config.yaml"), fmt.Sprintf(validateConfig, "sum"))

	_, err := execute(t, "--config", path, "build", "--stages", "geocode")
	require.Error(t, err)
	var ce *fault.ConfigurationError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "stages", ce.Option)
	t.Cleanup(func() {
		// Slice flags append once set, so the value is replaced outright.
		v := buildCmd.Flags().Lookup("stages").Value.(interface{ Replace([]string) error })
		_ = v.Replace(nil)
	})
}

func square(idField string, id int, x0, width float64) string {
	return fmt.Sprintf(`{"type": "Feature", "properties": {%q: %d},
     "geometry": {"type": "Polygon", "coordinates": [[[%g,0],[%g,0],[%g,1000],[%g,1000],[%g,0]]]}}`,
		idField, id, x0, x0+width, x0+width, x0, x0)
}

func collection(features ...string) string {
	return `{"type": "FeatureCollection", "crs": {"type": "name", "properties": {"name": "EPSG:26918"}},
  "features": [` + strings.Join(features, ",\n") + `]}`
}

const buildConfig = `
geometry:
  zones: {path: %[1]s/zones.geojson, id_field: LocationID}
  tracts: {path: %[1]s/tracts.geojson, id_field: GEOID}
sources:
  - name: taxi
    path: %[1]s/taxi.csv
    origin_field: PULocationID
    destination_field: DOLocationID
    key_space: zone
    granularity: trip
output:
  dir: %[1]s/out
  precision: 1
runlog:
  path: %[1]s/runs.db
log:
  level: error
  format: console
`

func TestBuildCommand_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "tracts.geojson"), collection(
		square("GEOID", 1, 0, 1000),
		square("GEOID", 2, 1000, 1000),
		square("GEOID", 3, 9000, 1000),
	))
	writeFile(t, filepath.Join(dir, "zones.geojson"), collection(
		square("LocationID", 7, 0, 1000),
		square("LocationID", 8, 9000, 1000),
	))
	writeFile(t, filepath.Join(dir, "taxi.csv"), "PULocationID,DOLocationID\n7,8\n7,8\n8,7\n")
	path := writeFile(t, filepath.Join(dir, "config.yaml"), fmt.Sprintf(buildConfig, filepath.ToSlash(dir)))

	out, err := execute(t, "--config", path, "build")
	require.NoError(t, err)
	for _, stage := range pipeline.AllStages {
		assert.Contains(t, out, stage)
	}
	assert.Contains(t, out, "Pairs:")

	universal, err := os.ReadFile(filepath.Join(dir, "out", "universal_demand.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(universal), "1,3,2.0,taxi,9000.0,false\n")
	assert.Contains(t, string(universal), "3,1,1.0,taxi,9000.0,false\n")

	out, err = execute(t, "--config", path, "neighbors", "1", "--include-self=false")
	require.NoError(t, err)
	assert.Equal(t, "2\n", out)

	out, err = execute(t, "--config", path, "neighbors", "2", "--include-self", "--json")
	require.NoError(t, err)
	assert.Equal(t, "[\"1\",\"2\"]\n", out)
	t.Cleanup(func() {
		_ = neighborsCmd.Flags().Set("include-self", "false")
		_ = neighborsCmd.Flags().Set("json", "false")
	})

	_, err = execute(t, "--config", path, "neighbors", "42", "--include-self=false", "--json=false")
	require.Error(t, err)
	assert.True(t, fault.IsNotFound(err))

	out, err = execute(t, "--config", path, "runs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, string(runlog.StatusComplete))
}

func TestInitLedger_UncreatableDir(t *testing.T) {
	blocker := writeFile(t, filepath.Join(t.TempDir(), "blocker"), "")
	prev := cfg
	cfg = &config.Config{RunLog: config.RunLogConfig{Path: filepath.Join(blocker, "runs", "runs.db")}}
	t.Cleanup(func() { cfg = prev })

	_, err := initLedger(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cmd: create runlog dir")
	var pe *fs.PathError
	assert.ErrorAs(t, err, &pe)
}

func TestNeighborhood(t *testing.T) {
	list := map[string][]string{
		"1":  {"2", "10"},
		"2":  {"1"},
		"10": {"1"},
		"5":  {},
	}
	ns, err := neighborhood(list, "1", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "10"}, ns)

	ns, err = neighborhood(list, "10", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "10"}, ns)

	ns, err = neighborhood(list, "5", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"5"}, ns)

	// The published list is not modified.
	_, err = neighborhood(list, "2", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, list["2"])

	_, err = neighborhood(list, "9", false)
	assert.True(t, fault.IsNotFound(err))
}
