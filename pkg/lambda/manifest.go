package lambda

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Manifest describes the build output: static asset paths relative to the
// client root, and the set of prerendered request paths.
type Manifest struct {
	Assets      []string `json:"assets"`
	Prerendered []string `json:"prerendered"`
}

// NewManifest normalizes both lists: assets keep their order without
// duplicates, prerendered paths become a sorted set.
func NewManifest(assets, prerendered []string) *Manifest {
	m := &Manifest{
		Assets:      dedupe(assets),
		Prerendered: dedupe(prerendered),
	}
	sort.Strings(m.Prerendered)
	return m
}

// IsPrerendered reports whether path was rendered at build time
func (m *Manifest) IsPrerendered(path string) bool {
	i := sort.SearchStrings(m.Prerendered, path)
	return i < len(m.Prerendered) && m.Prerendered[i] == path
}

// LoadManifest reads a manifest written by the packager
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return NewManifest(m.Assets, m.Prerendered), nil
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
