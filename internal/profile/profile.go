// Package profile reads install profiles: YAML lists of catalog items to keep installed.
package profile

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile is the set of items a user wants installed.
type Profile struct {
	Name  string   `yaml:"name,omitempty"`
	Items []string `yaml:"items"`
}

// Load reads the profile at path.
func Load(path string) (*Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open profile: %w", err)
	}
	defer f.Close()

	return Decode(f)
}

// Decode parses a profile, dropping duplicate and empty ids while keeping order.
func Decode(r io.Reader) (*Profile, error) {
	var p Profile

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	if err := dec.Decode(&p); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}

	seen := make(map[string]struct{}, len(p.Items))
	items := make([]string, 0, len(p.Items))

	for _, id := range p.Items {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}

		seen[id] = struct{}{}
		items = append(items, id)
	}

	p.Items = items

	return &p, nil
}
