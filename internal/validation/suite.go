// Package validation measures retrieval quality against a labelled query
// suite: which chunks a query should find, and whether the gate should use
// the retrieved context.
//
// Suites are YAML files so they can grow without a rebuild:
//
//	k: 5
//	retrieval:
//	  - id: R1
//	    query: "tlp header format"
//	    expected: [c21]
//	gate:
//	  - id: G1
//	    query: "what is the weather today"
//	    use: false
//	negative:
//	  - id: N1
//	    query: "\u0000"
package validation

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	verrors "github.com/Aman-CERP/verirag/internal/errors"
)

// DefaultK is the rank cutoff when a suite does not set one.
const DefaultK = 5

// QuerySpec is a retrieval query with the chunk ids it should surface.
type QuerySpec struct {
	ID         string   `yaml:"id" json:"id"`
	Name       string   `yaml:"name,omitempty" json:"name,omitempty"`
	Query      string   `yaml:"query" json:"query"`
	Expected   []string `yaml:"expected,omitempty" json:"expected,omitempty"`
	Categories []string `yaml:"category,omitempty" json:"category,omitempty"`
	Sources    []string `yaml:"sources,omitempty" json:"sources,omitempty"`
	Notes      string   `yaml:"notes,omitempty" json:"notes,omitempty"`
}

// GateSpec is a query with the gate verdict it should get.
type GateSpec struct {
	ID    string `yaml:"id" json:"id"`
	Query string `yaml:"query" json:"query"`
	Use   bool   `yaml:"use" json:"use"`
	Notes string `yaml:"notes,omitempty" json:"notes,omitempty"`
}

// Suite is a labelled query set.
type Suite struct {
	K         int         `yaml:"k"`
	Retrieval []QuerySpec `yaml:"retrieval"`
	Gate      []GateSpec  `yaml:"gate"`
	// Negative queries only need to complete without an error.
	Negative []QuerySpec `yaml:"negative"`
}

// LoadSuite reads and validates a suite file.
func LoadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, verrors.New(verrors.ErrCodeFileNotFound, "query suite not found", err).
				WithDetail("path", path)
		}
		return nil, fmt.Errorf("failed to read query suite: %w", err)
	}
	return ParseSuite(data)
}

// ParseSuite decodes a suite and checks every entry has an id and the
// retrieval entries name at least one expected chunk.
func ParseSuite(data []byte) (*Suite, error) {
	var s Suite
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, verrors.ValidationError("invalid query suite", err)
	}
	if s.K <= 0 {
		s.K = DefaultK
	}

	seen := make(map[string]bool)
	check := func(id string) error {
		if strings.TrimSpace(id) == "" {
			return verrors.ValidationError("query suite entry without id", nil)
		}
		if seen[id] {
			return verrors.ValidationError(fmt.Sprintf("duplicate query id %q", id), nil)
		}
		seen[id] = true
		return nil
	}

	for _, q := range s.Retrieval {
		if err := check(q.ID); err != nil {
			return nil, err
		}
		if len(q.Expected) == 0 {
			return nil, verrors.ValidationError(fmt.Sprintf("retrieval query %s has no expected chunks", q.ID), nil).
				WithSuggestion("List the chunk ids the query should find under 'expected'")
		}
	}
	for _, g := range s.Gate {
		if err := check(g.ID); err != nil {
			return nil, err
		}
	}
	for _, q := range s.Negative {
		if err := check(q.ID); err != nil {
			return nil, err
		}
	}
	if len(s.Retrieval)+len(s.Gate)+len(s.Negative) == 0 {
		return nil, verrors.ValidationError("query suite is empty", nil)
	}
	return &s, nil
}
