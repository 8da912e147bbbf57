/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	_ "embed"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

//go:embed assets/places.csv
var placesCSV string

// Place is one gazetteer entry. Immutable after load.
type Place struct {
	Name      string
	Key       string
	Latitude  float64
	Longitude float64
}

// Gazetteer is the lookup table of known places, keyed by normalized name.
// Built once at startup, read-only afterward.
type Gazetteer struct {
	places map[string]Place
	keys   []string
}

var diacriticFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// normalizePlace lowercases, trims, collapses inner whitespace, and strips
// diacritics, so that "  São  Paulo " and "sao paulo" share one key.
func normalizePlace(s string) string {
	folded, _, err := transform.String(diacriticFolder, s)
	if err != nil {
		folded = s
	}

	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

// lastLetter returns the last a-z character of a normalized key, uppercased,
// skipping trailing punctuation ("washington d.c." chains on "C").
func lastLetter(key string) (byte, bool) {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] >= 'a' && key[i] <= 'z' {
			return key[i] - 'a' + 'A', true
		}
	}

	return 0, false
}

// firstLetter returns the first a-z character of a normalized key, uppercased.
func firstLetter(key string) (byte, bool) {
	for i := 0; i < len(key); i++ {
		if key[i] >= 'a' && key[i] <= 'z' {
			return key[i] - 'a' + 'A', true
		}
	}

	return 0, false
}

func loadGazetteer(data string) (*Gazetteer, error) {
	reader := csv.NewReader(strings.NewReader(data))
	reader.FieldsPerRecord = 3

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("gazetteer: %w", err)
	}

	if len(records) < 2 {
		return nil, errors.New("gazetteer: dataset is empty")
	}

	g := &Gazetteer{
		places: make(map[string]Place, len(records)-1),
		keys:   make([]string, 0, len(records)-1),
	}

	// records[0] is the header row
	for _, record := range records[1:] {
		name := strings.TrimSpace(record[0])
		key := normalizePlace(name)
		if key == "" {
			return nil, fmt.Errorf("gazetteer: unusable place name %q", record[0])
		}

		lat, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return nil, fmt.Errorf("gazetteer: bad latitude for %q: %w", name, err)
		}
		lng, err := strconv.ParseFloat(record[2], 64)
		if err != nil {
			return nil, fmt.Errorf("gazetteer: bad longitude for %q: %w", name, err)
		}

		if _, dup := g.places[key]; dup {
			return nil, fmt.Errorf("gazetteer: duplicate entry %q", name)
		}

		g.places[key] = Place{
			Name:      name,
			Key:       key,
			Latitude:  lat,
			Longitude: lng,
		}
		g.keys = append(g.keys, key)
	}

	return g, nil
}

func (g *Gazetteer) get(key string) (Place, bool) {
	p, ok := g.places[key]

	return p, ok
}

func (g *Gazetteer) size() int {
	return len(g.keys)
}
