// Package content loads scene rows from CSV files. One file per
// collection, one row per scene, grouped into parts by the part index
// column.
package content

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"scenesmith/internal/core"
	"scenesmith/internal/logging"
)

// Header aliases seen across exported sheets, normalized to one canonical
// name each.
var columnAliases = map[string]string{
	"episode":      "episode_id",
	"episode_id":   "episode_id",
	"collection":   "episode_id",
	"part":         "part_idx",
	"part_idx":     "part_idx",
	"scene":        "scene_idx",
	"scene_idx":    "scene_idx",
	"scene_number": "scene_idx",
	"text":         "text",
	"script":       "text",
	"narration":    "text",
	"broll":        "brolls",
	"brolls":       "brolls",
	"broll_query":  "brolls",
	"speaker":      "speaker",
	"title":        "title",
	"template_url": "template_url",
	"template":     "template_url",
}

// Source reads collections from a directory of CSV files, or from a single
// file holding several collections.
type Source struct {
	path   string
	logger *logging.Logger
}

func NewSource(path string, logger *logging.Logger) *Source {
	return &Source{path: path, logger: logger.WithComponent("content")}
}

// GetUnits returns every scene row of the collection, ordered by part then
// scene.
func (s *Source) GetUnits(ctx context.Context, collection string) ([]core.Unit, error) {
	file, err := s.resolve(collection)
	if err != nil {
		return nil, err
	}
	units, err := s.loadFile(ctx, file)
	if err != nil {
		return nil, err
	}

	filtered := units[:0]
	for _, u := range units {
		if u.Collection == "" || u.Collection == collection {
			u.Collection = collection
			filtered = append(filtered, u)
		}
	}
	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].Part != filtered[j].Part {
			return filtered[i].Part < filtered[j].Part
		}
		return filtered[i].Scene < filtered[j].Scene
	})
	return filtered, nil
}

// Stats summarizes one collection's scene rows.
type Stats struct {
	Collection string         `json:"collection"`
	Parts      int            `json:"parts"`
	Scenes     int            `json:"scenes"`
	Words      int            `json:"words"`
	Chars      int            `json:"chars"`
	Brolls     int            `json:"brolls"`
	Templates  map[int]string `json:"templates,omitempty"`
}

// Stats computes per-collection totals over the loaded rows.
func (s *Source) Stats(ctx context.Context, collection string) (*Stats, error) {
	units, err := s.GetUnits(ctx, collection)
	if err != nil {
		return nil, err
	}
	st := &Stats{
		Collection: collection,
		Scenes:     len(units),
		Templates:  make(map[int]string),
	}
	parts := make(map[int]bool)
	for _, u := range units {
		parts[u.Part] = true
		st.Words += len(strings.Fields(u.Text))
		st.Chars += len(u.Text)
		if q := strings.TrimSpace(u.Broll); q != "" && !strings.EqualFold(q, "nan") {
			st.Brolls++
		}
		if u.TemplateURL != "" {
			st.Templates[u.Part] = u.TemplateURL
		}
	}
	st.Parts = len(parts)
	return st, nil
}

// Collections lists the collections available under the source path.
func (s *Source) Collections() ([]string, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return nil, fmt.Errorf("content path: %w", err)
	}
	if !info.IsDir() {
		name := strings.TrimSuffix(filepath.Base(s.path), filepath.Ext(s.path))
		return []string{name}, nil
	}
	entries, err := os.ReadDir(s.path)
	if err != nil {
		return nil, fmt.Errorf("listing content dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())))
	}
	sort.Strings(names)
	return names, nil
}

func (s *Source) resolve(collection string) (string, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return "", fmt.Errorf("content path: %w", err)
	}
	if !info.IsDir() {
		return s.path, nil
	}
	candidate := filepath.Join(s.path, collection+".csv")
	if _, err := os.Stat(candidate); err != nil {
		return "", core.ErrNotFound("COLLECTION_NOT_FOUND", collection)
	}
	return candidate, nil
}

func (s *Source) loadFile(ctx context.Context, path string) ([]core.Unit, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, core.ErrValidation("EMPTY_CSV", path).WithCause(err)
	}
	cols := make(map[string]int, len(header))
	for i, raw := range header {
		name := strings.ToLower(strings.TrimSpace(raw))
		if canonical, ok := columnAliases[name]; ok {
			cols[canonical] = i
		}
	}
	for _, required := range []string{"part_idx", "scene_idx", "text"} {
		if _, ok := cols[required]; !ok {
			return nil, core.ErrValidation("MISSING_COLUMN", fmt.Sprintf("%s: column %q not found", path, required))
		}
	}

	field := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var units []core.Unit
	line := 1
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, line, err)
		}

		part, err := strconv.Atoi(field(row, "part_idx"))
		if err != nil {
			s.logger.Warn("skipping row with bad part index", "file", filepath.Base(path), "line", line)
			continue
		}
		scene, err := strconv.Atoi(field(row, "scene_idx"))
		if err != nil {
			s.logger.Warn("skipping row with bad scene index", "file", filepath.Base(path), "line", line)
			continue
		}
		units = append(units, core.Unit{
			Collection:  field(row, "episode_id"),
			Part:        part,
			Scene:       scene,
			Text:        field(row, "text"),
			Broll:       field(row, "brolls"),
			Speaker:     field(row, "speaker"),
			Title:       field(row, "title"),
			TemplateURL: field(row, "template_url"),
		})
	}
	if len(units) == 0 {
		return nil, core.ErrValidation("EMPTY_CSV", path)
	}
	return units, nil
}
