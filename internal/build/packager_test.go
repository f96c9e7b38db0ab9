package build

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"kit-adapter-aws/internal/adapters/storage"
	"kit-adapter-aws/pkg/lambda"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTree creates files under root from a path -> content map
func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
}

func frameworkOutput(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"client/_app/immutable/start.js": strings.Repeat("console.log(1);", 50),
		"client/favicon.png":             "png",
		"client/robots.txt":              "User-agent: *",
		"prerendered/index.html":         "<h1>home</h1>",
		"prerendered/about.html":         "<h1>about</h1>",
		"prerendered/docs/index.html":    "<h1>docs</h1>",
		"server/bootstrap":               "binary",
		"server/chunks/app.js":           "chunk",
	})
	return root
}

func TestPackager_Adapt(t *testing.T) {
	src := frameworkOutput(t)
	out := filepath.Join(t.TempDir(), "dist")
	tmp := filepath.Join(t.TempDir(), "tmp")

	// Stale output is removed.
	writeTree(t, out, map[string]string{"stale.txt": "old"})

	builder, err := NewDirBuilder(src, KitConfig{BasePath: "/blog/", AppDir: "_app"})
	require.NoError(t, err)

	result, err := NewPackager(builder, Options{
		Out:           out,
		TmpDir:        tmp,
		EnvPrefix:     "APP_",
		ServerPackage: "example.com/site/server",
	}).Adapt(context.Background())
	require.NoError(t, err)

	assert.NoFileExists(t, filepath.Join(out, "stale.txt"))
	assert.FileExists(t, filepath.Join(out, "client", "blog", "_app", "immutable", "start.js"))
	assert.FileExists(t, filepath.Join(out, "client", "blog", "favicon.png"))
	assert.FileExists(t, filepath.Join(out, "prerendered", "blog", "about.html"))
	assert.FileExists(t, filepath.Join(out, "server", "chunks", "app.js"))
	assert.Equal(t, 3, result.ClientFiles)
	assert.Equal(t, 3, result.PrerenderedFiles)
	assert.Equal(t, 2, result.ServerFiles)
	assert.Zero(t, result.Compressed)

	t.Run("manifest", func(t *testing.T) {
		data, err := os.ReadFile(filepath.Join(out, "server", "manifest.json"))
		require.NoError(t, err)

		var m lambda.Manifest
		require.NoError(t, json.Unmarshal(data, &m))
		assert.ElementsMatch(t, []string{"favicon.png", "robots.txt"}, m.Assets)
		assert.Equal(t, []string{"/blog/", "/blog/about", "/blog/docs/"}, m.Prerendered)
	})

	t.Run("bootstrap stamped", func(t *testing.T) {
		data, err := os.ReadFile(filepath.Join(out, "server", "main.go"))
		require.NoError(t, err)
		src := string(data)

		assert.Contains(t, src, `app "example.com/site/server"`)
		assert.Contains(t, src, `"kit-adapter-aws/pkg/server"`)
		assert.Contains(t, src, `EnvPrefix:    "APP_"`)
		assert.Contains(t, src, `ManifestPath: "manifest.json"`)
		assert.NotContains(t, src, "_DEST")
	})

	t.Run("index", func(t *testing.T) {
		data, err := os.ReadFile(filepath.Join(out, "index.json"))
		require.NoError(t, err)

		var index map[string]string
		require.NoError(t, json.Unmarshal(data, &index))
		assert.Equal(t, "server/manifest.json", index["manifest"])
		assert.Equal(t, "server.zip", index["artifact"])
	})

	t.Run("archive", func(t *testing.T) {
		zr, err := zip.OpenReader(result.ArchivePath)
		require.NoError(t, err)
		defer zr.Close()

		modes := map[string]os.FileMode{}
		for _, f := range zr.File {
			modes[f.Name] = f.Mode()
		}
		assert.Contains(t, modes, "manifest.json")
		assert.Contains(t, modes, "main.go")
		assert.Equal(t, os.FileMode(0755), modes["bootstrap"].Perm())
		assert.Positive(t, result.ArchiveBytes)
	})
}

func TestPackager_Precompress(t *testing.T) {
	src := frameworkOutput(t)
	out := filepath.Join(t.TempDir(), "dist")

	builder, err := NewDirBuilder(src, KitConfig{})
	require.NoError(t, err)

	result, err := NewPackager(builder, Options{Out: out, TmpDir: t.TempDir(), Precompress: true}).Adapt(context.Background())
	require.NoError(t, err)

	// start.js, robots.txt and three html pages, two variants each.
	assert.Equal(t, 10, result.Compressed)
	assert.NoFileExists(t, filepath.Join(out, "client", "favicon.png.gz"))

	original, err := os.ReadFile(filepath.Join(out, "client", "_app", "immutable", "start.js"))
	require.NoError(t, err)

	gz, err := os.ReadFile(filepath.Join(out, "client", "_app", "immutable", "start.js.gz"))
	require.NoError(t, err)
	zr, err := gzip.NewReader(bytes.NewReader(gz))
	require.NoError(t, err)
	plain, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, original, plain)

	br, err := os.ReadFile(filepath.Join(out, "prerendered", "about.html.br"))
	require.NoError(t, err)
	plain, err = io.ReadAll(brotli.NewReader(bytes.NewReader(br)))
	require.NoError(t, err)
	assert.Equal(t, "<h1>about</h1>", string(plain))
}

func TestNewDirBuilder_MissingRoot(t *testing.T) {
	_, err := NewDirBuilder(filepath.Join(t.TempDir(), "nope"), KitConfig{})
	assert.Error(t, err)
}

func TestRouteFor(t *testing.T) {
	tests := []struct {
		file string
		base string
		want string
	}{
		{"index.html", "", "/"},
		{"about.html", "", "/about"},
		{"docs/index.html", "", "/docs/"},
		{"feed.xml", "", "/feed.xml"},
		{"index.html", "blog", "/blog/"},
		{"a/b.html", "blog", "/blog/a/b"},
		{"docs/index.html", "blog", "/blog/docs/"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RouteFor(tt.file, tt.base), "file %s base %q", tt.file, tt.base)
	}
}

func TestCompressible(t *testing.T) {
	assert.True(t, Compressible("a/B.JS"))
	assert.True(t, Compressible("index.html"))
	assert.False(t, Compressible("img.png"))
	assert.False(t, Compressible("start.js.gz"))
}

func TestWriteArchive_Deterministic(t *testing.T) {
	fs := storage.NewMockFileStorage()
	ctx := context.Background()
	require.NoError(t, fs.Store(ctx, "b.txt", []byte("b"), nil))
	require.NoError(t, fs.Store(ctx, "a.txt", []byte("a"), nil))

	var first, second bytes.Buffer
	n, err := WriteArchive(ctx, fs, &first)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	_, err = WriteArchive(ctx, fs, &second)
	require.NoError(t, err)
	assert.Equal(t, first.Bytes(), second.Bytes())
}

func TestStamp_UnknownTemplate(t *testing.T) {
	_, err := Stamp("missing.tmpl", Placeholders{})
	assert.Error(t, err)
}
