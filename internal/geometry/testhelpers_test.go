package geometry

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/require"
)

const nyLongIslandFeetPRJ = `PROJCS["NAD_1983_StatePlane_New_York_Long_Island_FIPS_3104_Feet",GEOGCS["GCS_North_American_1983",DATUM["D_North_American_1983",SPHEROID["GRS_1980",6378137.0,298.257222101]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]],PROJECTION["Lambert_Conformal_Conic"],PARAMETER["False_Easting",984250.0],PARAMETER["False_Northing",0.0],PARAMETER["Central_Meridian",-74.0],PARAMETER["Standard_Parallel_1",40.66666666666666],PARAMETER["Standard_Parallel_2",41.03333333333333],PARAMETER["Latitude_Of_Origin",40.16666666666666],UNIT["Foot_US",0.3048006096012192]]`

const wgs84PRJ = `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]]`

type shpFeature struct {
	id     string
	region string
	rings  [][]shp.Point
}

// squareCW returns a closed clockwise ring, the shapefile shell winding.
func squareCW(minX, minY, maxX, maxY float64) []shp.Point {
	return []shp.Point{
		{X: minX, Y: minY}, {X: minX, Y: maxY}, {X: maxX, Y: maxY}, {X: maxX, Y: minY}, {X: minX, Y: minY},
	}
}

// squareCCW returns a closed counter-clockwise ring, the shapefile hole winding.
func squareCCW(minX, minY, maxX, maxY float64) []shp.Point {
	return []shp.Point{
		{X: minX, Y: minY}, {X: maxX, Y: minY}, {X: maxX, Y: maxY}, {X: minX, Y: maxY}, {X: minX, Y: minY},
	}
}

// writeShapefile writes base.shp/.shx/.dbf (and .prj when prj is set) into
// dir with string fields "ID" and "REGION".
func writeShapefile(t *testing.T, dir, base string, feats []shpFeature, prj string) string {
	t.Helper()
	path := filepath.Join(dir, base+".shp")
	w, err := shp.Create(path, shp.POLYGON)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{
		shp.StringField("ID", 16),
		shp.StringField("REGION", 16),
	}))
	for _, f := range feats {
		poly := shp.Polygon(*shp.NewPolyLine(f.rings))
		row := int(w.Write(&poly))
		require.NoError(t, w.WriteAttribute(row, 0, f.id))
		require.NoError(t, w.WriteAttribute(row, 1, f.region))
	}
	w.Close()
	// go-shp v0.1.1 names the attribute file "<base>dbf"; the reader expects "<base>.dbf".
	require.NoError(t, os.Rename(filepath.Join(dir, base+"dbf"), filepath.Join(dir, base+".dbf")))
	if prj != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, base+".prj"), []byte(prj), 0o644))
	}
	return path
}

// zipFiles packs every file in srcDir into a flat archive at dst.
func zipFiles(t *testing.T, srcDir, dst string) {
	t.Helper()
	out, err := os.Create(dst)
	require.NoError(t, err)
	defer out.Close() //nolint:errcheck

	zw := zip.NewWriter(out)
	entries, err := os.ReadDir(srcDir)
	require.NoError(t, err)
	for _, e := range entries {
		f, err := os.Open(filepath.Join(srcDir, e.Name()))
		require.NoError(t, err)
		w, err := zw.Create(e.Name())
		require.NoError(t, err)
		_, err = io.Copy(w, f)
		require.NoError(t, err)
		require.NoError(t, f.Close())
	}
	require.NoError(t, zw.Close())
}
