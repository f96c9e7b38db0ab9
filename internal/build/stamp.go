package build

import (
	"embed"
	"fmt"
	"strconv"
	"strings"
)

//go:embed templates/*.tmpl
var templates embed.FS

// Placeholders resolved when a template is stamped
type Placeholders struct {
	ServerPackage string
	AdapterModule string
	ManifestPath  string
	EnvPrefix     string
	ArtifactPath  string
}

// Stamp renders an embedded template by token substitution. The env prefix
// is written as a Go string literal.
func Stamp(name string, p Placeholders) ([]byte, error) {
	raw, err := templates.ReadFile("templates/" + name)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", name, err)
	}

	r := strings.NewReplacer(
		"SERVER_DEST", p.ServerPackage,
		"ADAPTER_DEST", p.AdapterModule,
		"MANIFEST_DEST", p.ManifestPath,
		"ENV_PREFIX_DEST", strconv.Quote(p.EnvPrefix),
		"ARTIFACT_DEST", p.ArtifactPath,
	)
	return []byte(r.Replace(string(raw))), nil
}
