// Package source loads the static source table and resolves requested
// source keys against it.
package source

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Family selects which extraction rule set applies to a source.
type Family string

const (
	// FamilyGovBR covers the ~160 government portal sites.
	FamilyGovBR Family = "govbr"
	// FamilyEBC covers the broadcast-media sites.
	FamilyEBC Family = "ebc"
)

// Endpoint is one resolved, active source ready for extraction.
type Endpoint struct {
	Key    string
	URL    string
	Family Family
}

// Failure explains why a requested source key could not be resolved.
type Failure struct {
	Key    string
	Reason string
}

// entry is the on-disk shape of one source table row.
type entry struct {
	URL            string  `yaml:"url"`
	Active         *bool   `yaml:"active"`
	Family         Family  `yaml:"family"`
	DisabledReason string  `yaml:"disabled_reason"`
	DisabledDate   string  `yaml:"disabled_date"`
}

type tableFile struct {
	Sources map[string]entry `yaml:"sources"`
}

// Table is the validated, read-only source table.
type Table struct {
	sources map[string]Endpoint
	active  map[string]bool
}

// LoadTable reads and validates the source table yaml file.
// Entries without a url are rejected; active defaults to true when absent.
func LoadTable(path string) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read source table: %w", err)
	}
	return ParseTable(raw)
}

// ParseTable validates raw yaml source table content.
func ParseTable(raw []byte) (*Table, error) {
	var file tableFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse source table: %w", err)
	}
	if len(file.Sources) == 0 {
		return nil, fmt.Errorf("source table has no sources")
	}

	t := &Table{
		sources: make(map[string]Endpoint, len(file.Sources)),
		active:  make(map[string]bool, len(file.Sources)),
	}
	for key, e := range file.Sources {
		if e.URL == "" {
			return nil, fmt.Errorf("source %q: url is required", key)
		}
		family := e.Family
		if family == "" {
			family = FamilyGovBR
		}
		if family != FamilyGovBR && family != FamilyEBC {
			return nil, fmt.Errorf("source %q: unknown family %q", key, family)
		}
		t.sources[key] = Endpoint{Key: key, URL: e.URL, Family: family}
		t.active[key] = e.Active == nil || *e.Active
	}
	return t, nil
}

// Len returns the number of sources in the table, active or not.
func (t *Table) Len() int {
	return len(t.sources)
}

// Resolve maps requested source keys to endpoints of the given family.
// An empty request resolves to every active source of the family. Unknown
// keys and inactive keys are reported as failures, never as an error; the
// caller always receives the resolvable remainder. Endpoints are returned
// in key order so sequential runs are deterministic.
func (t *Table) Resolve(requested []string, family Family) ([]Endpoint, []Failure) {
	var endpoints []Endpoint
	var failures []Failure

	if len(requested) == 0 {
		for key, ep := range t.sources {
			if ep.Family == family && t.active[key] {
				endpoints = append(endpoints, ep)
			}
		}
		sort.Slice(endpoints, func(i, j int) bool { return endpoints[i].Key < endpoints[j].Key })
		return endpoints, nil
	}

	for _, key := range requested {
		ep, ok := t.sources[key]
		if !ok || ep.Family != family {
			failures = append(failures, Failure{Key: key, Reason: "not found"})
			continue
		}
		if !t.active[key] {
			failures = append(failures, Failure{Key: key, Reason: "inactive"})
			continue
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, failures
}
