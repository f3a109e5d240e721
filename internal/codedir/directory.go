// Package codedir loads the event code directory and suggests codes from
// free-text club and event names.
package codedir

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"clubtreasurer/internal/domain"
)

const (
	// Cutoff is the minimum club-name ratio for a fuzzy match.
	Cutoff = 0.6

	ConfidenceExact        = 0.95
	ConfidenceGeneralExact = 0.8
	ConfidenceGeneralFuzzy = 0.7
	ConfidenceFirstExact   = 0.75
	ConfidenceFirstFuzzy   = 0.65
)

var generalMarkers = []string{"operating", "general", "costs"}

// Suggestion is a code proposed for a club and event.
type Suggestion struct {
	Code       string  `json:"code"`
	Club       string  `json:"club"`
	Event      string  `json:"event"`
	Confidence float64 `json:"confidence"`
}

// Directory is the read-only set of valid event codes. The zero value is an
// empty, unloaded directory.
type Directory struct {
	entries []domain.CodeEntry
	codes   map[string]struct{}
	clubs   []string
	loaded  bool
}

// New builds a loaded directory from entries, keeping their order.
func New(entries []domain.CodeEntry) *Directory {
	d := &Directory{
		entries: append([]domain.CodeEntry(nil), entries...),
		codes:   make(map[string]struct{}, len(entries)),
		loaded:  true,
	}
	seen := map[string]bool{}
	for _, e := range d.entries {
		d.codes[e.Code] = struct{}{}
		if !seen[e.Club] {
			seen[e.Club] = true
			d.clubs = append(d.clubs, e.Club)
		}
	}
	return d
}

// Load reads a directory CSV. On failure it returns an empty, unloaded
// directory together with the error so callers can log and carry on.
func Load(path string) (*Directory, error) {
	f, err := os.Open(path)
	if err != nil {
		return &Directory{}, fmt.Errorf("open code directory: %w", err)
	}
	defer f.Close()
	d, err := Parse(f)
	if err != nil {
		return &Directory{}, fmt.Errorf("parse code directory %s: %w", path, err)
	}
	return d, nil
}

// Parse reads CSV with a header row naming at least club_name and event_code.
func Parse(r io.Reader) (*Directory, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty file")
		}
		return nil, err
	}
	col := map[string]int{}
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	for _, need := range []string{"club_name", "event_code"} {
		if _, ok := col[need]; !ok {
			return nil, fmt.Errorf("missing column %s", need)
		}
	}
	get := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}
	var entries []domain.CodeEntry
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		code := get(rec, "event_code")
		if code == "" {
			continue
		}
		entries = append(entries, domain.CodeEntry{
			Code:      code,
			Club:      get(rec, "club_name"),
			Event:     get(rec, "event_name"),
			Category:  get(rec, "event_type"),
			TaxStatus: get(rec, "vat_status"),
			Year:      get(rec, "year_created"),
		})
	}
	return New(entries), nil
}

func (d *Directory) Loaded() bool { return d != nil && d.loaded }

// Valid reports whether code is in the directory. Matching is exact.
func (d *Directory) Valid(code string) bool {
	if d == nil {
		return false
	}
	_, ok := d.codes[strings.TrimSpace(code)]
	return ok
}

func (d *Directory) Entries() []domain.CodeEntry {
	if d == nil {
		return nil
	}
	return append([]domain.CodeEntry(nil), d.entries...)
}

// Clubs returns the distinct club names in directory order.
func (d *Directory) Clubs() []string {
	if d == nil {
		return nil
	}
	return append([]string(nil), d.clubs...)
}

// Suggest proposes a code for club, optionally narrowed by eventHint.
func (d *Directory) Suggest(club, eventHint string) (Suggestion, bool) {
	club = strings.TrimSpace(club)
	hint := strings.ToLower(strings.TrimSpace(eventHint))
	if !d.Loaded() || club == "" || len(d.entries) == 0 {
		return Suggestion{}, false
	}

	if hint != "" {
		for _, e := range d.entries {
			if strings.EqualFold(e.Club, club) && strings.Contains(strings.ToLower(e.Event), hint) {
				return suggestion(e, ConfidenceExact), true
			}
		}
	}

	matchedClub, ok := d.closestClub(club)
	if !ok {
		return Suggestion{}, false
	}
	exact := matchedClub == club
	var first *domain.CodeEntry
	for i := range d.entries {
		e := d.entries[i]
		if e.Club != matchedClub {
			continue
		}
		if first == nil {
			first = &d.entries[i]
		}
		if hasGeneralMarker(e.Event) {
			return suggestion(e, pick(exact, ConfidenceGeneralExact, ConfidenceGeneralFuzzy)), true
		}
	}
	if first != nil {
		return suggestion(*first, pick(exact, ConfidenceFirstExact, ConfidenceFirstFuzzy)), true
	}
	return Suggestion{}, false
}

// closestClub returns the club with the highest ratio to name, if it reaches
// the cutoff. On equal scores the club name that sorts last wins.
func (d *Directory) closestClub(name string) (string, bool) {
	best, bestScore := "", -1.0
	for _, c := range d.clubs {
		s := Ratio(c, name)
		if s > bestScore || (s == bestScore && c > best) {
			best, bestScore = c, s
		}
	}
	if bestScore < Cutoff {
		return "", false
	}
	return best, true
}

func hasGeneralMarker(event string) bool {
	lower := strings.ToLower(event)
	for _, m := range generalMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func pick(exact bool, a, b float64) float64 {
	if exact {
		return a
	}
	return b
}

func suggestion(e domain.CodeEntry, confidence float64) Suggestion {
	return Suggestion{Code: e.Code, Club: e.Club, Event: e.Event, Confidence: confidence}
}
