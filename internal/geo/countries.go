package geo

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed countries.yaml
var countriesYAML []byte

// ErrUnknownCountry is matched by every lookup failure.
var ErrUnknownCountry = errors.New("unknown country")

// UnknownCountryError is returned when a code is absent from the table.
type UnknownCountryError struct {
	Code string
}

func (e *UnknownCountryError) Error() string {
	return fmt.Sprintf("unknown country code %q", e.Code)
}

func (e *UnknownCountryError) Is(target error) bool {
	return target == ErrUnknownCountry
}

// Country is a named extent.
type Country struct {
	Code string
	Name string
	Box  BoundingBox
}

// Table maps upper-case country codes to their extent. It is read-only after
// loading.
type Table map[string]Country

type countryEntry struct {
	Name string    `yaml:"name"`
	BBox []float64 `yaml:"bbox"`
}

// LoadTable parses a YAML document of the form
//
//	DE: {name: Germany, bbox: [lon1, lat1, lon2, lat2]}
func LoadTable(r io.Reader) (Table, error) {
	var entries map[string]countryEntry
	if err := yaml.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("failed to decode country table: %w", err)
	}

	table := make(Table, len(entries))

	for code, e := range entries {
		if len(e.BBox) != 4 {
			return nil, fmt.Errorf("country %s: bbox needs 4 coordinates, got %d", code, len(e.BBox))
		}

		code = strings.ToUpper(code)
		table[code] = Country{
			Code: code,
			Name: e.Name,
			Box:  BoundingBox{Lon1: e.BBox[0], Lat1: e.BBox[1], Lon2: e.BBox[2], Lat2: e.BBox[3]},
		}
	}

	return table, nil
}

var (
	defaultOnce  sync.Once
	defaultTable Table
	defaultErr   error
)

// DefaultTable returns the embedded country table, parsed on first use.
func DefaultTable() (Table, error) {
	defaultOnce.Do(func() {
		defaultTable, defaultErr = LoadTable(bytes.NewReader(countriesYAML))
	})

	return defaultTable, defaultErr
}

// Lookup resolves a country code, ignoring case.
func (t Table) Lookup(code string) (Country, error) {
	c, ok := t[strings.ToUpper(code)]
	if !ok {
		return Country{}, &UnknownCountryError{Code: code}
	}

	return c, nil
}

// Codes returns the sorted list of known codes.
func (t Table) Codes() []string {
	codes := make([]string, 0, len(t))
	for code := range t {
		codes = append(codes, code)
	}

	sort.Strings(codes)

	return codes
}
