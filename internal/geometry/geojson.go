package geometry

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// defaultGeoJSONCRS applies when a document has no "crs" member (RFC 7946).
const defaultGeoJSONCRS = "urn:ogc:def:crs:OGC:1.3:CRS84"

// readGeoJSON reads a FeatureCollection of Polygon/MultiPolygon features.
// The identifier is looked up in the properties, falling back to the
// feature id.
func readGeoJSON(path, idField, regionField string) ([]record, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", eris.Wrapf(err, "geometry: read %s", path)
	}

	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, "", eris.Wrap(err, "geometry: decode geojson")
	}

	// The deprecated crs member is not exposed on FeatureCollection.
	var header struct {
		CRS *geojson.CRS `json:"crs"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, "", eris.Wrap(err, "geometry: decode geojson crs")
	}
	crs := defaultGeoJSONCRS
	if header.CRS != nil {
		if name, ok := header.CRS.Properties["name"].(string); ok && name != "" {
			crs = name
		}
	}

	records := make([]record, 0, len(fc.Features))
	for i, f := range fc.Features {
		rec := record{ID: propertyString(f.Properties, idField)}
		if rec.ID == "" {
			rec.ID = strings.TrimSpace(f.ID)
		}
		if regionField != "" {
			rec.Region = propertyString(f.Properties, regionField)
		}
		switch g := f.Geometry.(type) {
		case *geom.MultiPolygon:
			rec.Geometry = g
		case *geom.Polygon:
			mp := geom.NewMultiPolygon(g.Layout())
			if err := mp.Push(g); err != nil {
				return nil, "", eris.Wrapf(err, "geometry: feature %d", i)
			}
			rec.Geometry = mp
		case nil:
			rec.Geometry = nil
		default:
			return nil, "", eris.Errorf("geometry: feature %d is %T, want polygon", i, f.Geometry)
		}
		records = append(records, rec)
	}
	return records, crs, nil
}

// propertyString renders a property value as an identifier. Integral
// numbers lose their decimal part.
func propertyString(props map[string]interface{}, key string) string {
	if props == nil || key == "" {
		return ""
	}
	v, ok := props[key]
	if !ok {
		for k, val := range props {
			if strings.EqualFold(k, key) {
				v, ok = val, true
				break
			}
		}
	}
	if !ok || v == nil {
		return ""
	}
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(x))
	}
}
