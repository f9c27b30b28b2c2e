// Package tablestore reads the on-disk data layout: per-source CSV tables and
// event files under the data directory, plus one GeoJSON file of location
// geometries. Event columns are standardized through the catalog's column
// maps, so callers never see a source-specific column name.
package tablestore

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/couchcryptid/geo-query-service/internal/catalog"
	"github.com/couchcryptid/geo-query-service/internal/domain"
	"github.com/couchcryptid/geo-query-service/internal/engine"
)

// geometryFile is the single GeoJSON file holding all location perimeters.
const geometryFile = "geometries.geojson"

// Store implements engine.Storage over a directory tree:
//
//	<dir>/catalog.json
//	<dir>/<source>/<key>.csv
//	<dir>/geometries.geojson
type Store struct {
	dir    string
	cat    *catalog.Catalog
	logger *slog.Logger

	geomOnce sync.Once
	geoms    map[string]json.RawMessage
	geomErr  error
}

// New creates a Store rooted at dir.
func New(dir string, cat *catalog.Catalog, logger *slog.Logger) *Store {
	return &Store{dir: dir, cat: cat, logger: logger}
}

// ReadTable loads one aggregate table. The first two columns are always
// location_code and year; every remaining column is a numeric metric. Cells
// that fail to parse are skipped, not zeroed, so sparse boxes stay sparse.
func (s *Store) ReadTable(ctx context.Context, sourceID, fileKey string) ([]engine.Row, error) {
	records, header, err := s.readCSV(ctx, sourceID, fileKey)
	if err != nil {
		return nil, err
	}
	if len(header) < 2 || header[0] != "location_code" || header[1] != "year" {
		return nil, fmt.Errorf("table %s/%s: header must start with location_code,year", sourceID, fileKey)
	}

	rows := make([]engine.Row, 0, len(records))
	for _, rec := range records {
		year, err := strconv.Atoi(rec[1])
		if err != nil {
			s.logger.Warn("bad year cell, row skipped", "source", sourceID, "file", fileKey, "value", rec[1])
			continue
		}
		row := engine.Row{
			LocationCode: rec[0],
			Year:         year,
			Values:       make(map[string]float64, len(header)-2),
		}
		for i := 2; i < len(header) && i < len(rec); i++ {
			if rec[i] == "" {
				continue
			}
			v, err := strconv.ParseFloat(rec[i], 64)
			if err != nil {
				continue
			}
			row.Values[header[i]] = v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ReadEvents loads one event file and standardizes its columns through the
// catalog's column map. Unmapped extra columns become numeric properties
// under their own names; non-numeric extras are dropped.
func (s *Store) ReadEvents(ctx context.Context, sourceID, fileKey string) ([]domain.EventRecord, error) {
	file, ok := s.cat.EventFile(sourceID, fileKey)
	if !ok {
		return nil, fmt.Errorf("source %q has no event file %q", sourceID, fileKey)
	}

	records, header, err := s.readCSV(ctx, sourceID, file.Key)
	if err != nil {
		return nil, err
	}

	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[name] = i
	}
	col := func(standard string) (int, bool) {
		name := standard
		if mapped, ok := file.Columns[standard]; ok {
			name = mapped
		}
		i, ok := idx[name]
		return i, ok
	}

	idCol, hasID := col("id")
	locCol, hasLoc := col("location_code")
	tsCol, hasTS := col("timestamp")
	if !hasID || !hasTS {
		return nil, fmt.Errorf("events %s/%s: id and timestamp columns are required", sourceID, file.Key)
	}
	latCol, hasLat := col("latitude")
	lonCol, hasLon := col("longitude")
	geomCol, hasGeom := col("geometry")

	// Reserved columns never become properties.
	reserved := make(map[int]bool)
	for _, c := range []struct {
		i  int
		ok bool
	}{{idCol, hasID}, {locCol, hasLoc}, {tsCol, hasTS}, {latCol, hasLat}, {lonCol, hasLon}, {geomCol, hasGeom}} {
		if c.ok {
			reserved[c.i] = true
		}
	}

	out := make([]domain.EventRecord, 0, len(records))
	for _, rec := range records {
		ts, err := parseTimestamp(rec[tsCol])
		if err != nil {
			s.logger.Warn("bad timestamp, event skipped", "source", sourceID, "file", file.Key, "value", rec[tsCol])
			continue
		}
		ev := domain.EventRecord{
			ID:         rec[idCol],
			Timestamp:  ts,
			Properties: make(map[string]float64),
		}
		if hasLoc {
			ev.LocationCode = rec[locCol]
		}
		if hasLat {
			ev.Lat, _ = strconv.ParseFloat(rec[latCol], 64)
		}
		if hasLon {
			ev.Lon, _ = strconv.ParseFloat(rec[lonCol], 64)
		}
		if hasGeom && rec[geomCol] != "" {
			ev.Geometry = json.RawMessage(rec[geomCol])
		}
		for i, name := range header {
			if reserved[i] || i >= len(rec) || rec[i] == "" {
				continue
			}
			if v, err := strconv.ParseFloat(rec[i], 64); err == nil {
				ev.Properties[standardName(file.Columns, name)] = v
			}
		}
		out = append(out, ev)
	}
	return out, nil
}

// ResolveGeometry returns stored geometry for the requested codes. Codes
// without geometry are simply absent from the result; the engine renders
// them as geometry-less features.
func (s *Store) ResolveGeometry(_ context.Context, codes []string) ([]engine.GeometryFeature, error) {
	s.geomOnce.Do(s.loadGeometries)
	if s.geomErr != nil {
		return nil, s.geomErr
	}

	out := make([]engine.GeometryFeature, 0, len(codes))
	for _, code := range codes {
		if geom, ok := s.geoms[code]; ok {
			out = append(out, engine.GeometryFeature{LocationCode: code, Geometry: geom})
		}
	}
	return out, nil
}

func (s *Store) loadGeometries() {
	data, err := os.ReadFile(filepath.Join(s.dir, geometryFile))
	if err != nil {
		if os.IsNotExist(err) {
			// Geometry is optional; responses degrade to geometry-less features.
			s.logger.Warn("no geometry file, features will carry no shapes", "path", geometryFile)
			s.geoms = map[string]json.RawMessage{}
			return
		}
		s.geomErr = fmt.Errorf("read geometries: %w", err)
		return
	}

	var fc struct {
		Features []struct {
			Geometry   json.RawMessage `json:"geometry"`
			Properties struct {
				LocationCode string `json:"location_code"`
			} `json:"properties"`
		} `json:"features"`
	}
	if err := json.Unmarshal(data, &fc); err != nil {
		s.geomErr = fmt.Errorf("parse geometries: %w", err)
		return
	}

	s.geoms = make(map[string]json.RawMessage, len(fc.Features))
	for _, f := range fc.Features {
		if f.Properties.LocationCode != "" {
			s.geoms[f.Properties.LocationCode] = f.Geometry
		}
	}
	s.logger.Info("geometries loaded", "count", len(s.geoms))
}

// readCSV opens <dir>/<source>/<key>.csv and returns data records plus the
// header. Short rows are tolerated; ragged trailing cells read as empty.
func (s *Store) readCSV(ctx context.Context, sourceID, fileKey string) ([][]string, []string, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	path := filepath.Join(s.dir, sourceID, fileKey+".csv")
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	all, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(all) == 0 {
		return nil, nil, fmt.Errorf("%s: empty file", path)
	}

	header := all[0]
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	return all[1:], header, nil
}

// standardName reverses the column map for property columns, so a file whose
// "mag" column is registered as "magnitude" surfaces the standardized name.
func standardName(columns map[string]string, sourceCol string) string {
	for standard, mapped := range columns {
		if mapped == sourceCol {
			return standard
		}
	}
	return sourceCol
}

func parseTimestamp(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	return time.Parse("2006-01-02", s)
}
