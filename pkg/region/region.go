package region

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

//go:embed data/municipalities.json
var defaultData []byte

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Entry is the registration district a plate prefix belongs to.
type Entry struct {
	Country      string
	State        string
	Municipality string
}

// Table maps registration codes to districts, keyed per country. It is
// built once and only read afterwards.
type Table struct {
	byCountry map[string]map[string]Entry
}

// reference file layout: {country: {state: [{code: name}, ...]}}
type document map[string]map[string][]map[string]string

var countryAliases = map[string]string{
	"at":         "at",
	"austria":    "at",
	"österreich": "at",
	"si":         "si",
	"slovenia":   "si",
	"slovenija":  "si",
}

// LoadTable reads the reference file at path. An empty path loads the
// bundled Austrian and Slovenian data.
func LoadTable(path string) (*Table, error) {
	raw := defaultData
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read municipality data %s: %w", path, err)
		}
		raw = b
	}

	return ParseTable(raw)
}

func ParseTable(raw []byte) (*Table, error) {
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode municipality data: %w", err)
	}

	return NewTable(doc), nil
}

func NewTable(doc map[string]map[string][]map[string]string) *Table {
	t := &Table{byCountry: make(map[string]map[string]Entry)}

	for countryName, states := range doc {
		country := normalizeCountry(countryName)
		codes, ok := t.byCountry[country]
		if !ok {
			codes = make(map[string]Entry)
			t.byCountry[country] = codes
		}

		for state, municipalities := range states {
			for _, m := range municipalities {
				for code, name := range m {
					codes[strings.ToUpper(strings.TrimSpace(code))] = Entry{
						Country:      country,
						State:        state,
						Municipality: name,
					}
				}
			}
		}
	}

	return t
}

// Lookup matches the first two characters of plate, then the first one,
// against the codes registered for country.
func (t *Table) Lookup(country, plate string) (string, Entry, bool) {
	codes := t.byCountry[normalizeCountry(country)]
	if len(codes) == 0 {
		return "", Entry{}, false
	}

	p := []rune(strings.ToUpper(strings.TrimSpace(plate)))
	for _, n := range []int{2, 1} {
		if len(p) < n {
			continue
		}
		code := string(p[:n])
		if entry, ok := codes[code]; ok {
			return code, entry, true
		}
	}

	return "", Entry{}, false
}

// Len returns the number of codes known for country.
func (t *Table) Len(country string) int {
	return len(t.byCountry[normalizeCountry(country)])
}

func normalizeCountry(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	if alias, ok := countryAliases[key]; ok {
		return alias
	}
	return key
}
