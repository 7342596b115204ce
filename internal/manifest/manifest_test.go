package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faiz501/bharat-industry/internal/config"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "yaml",
			file: "manifest.yaml",
			content: `
static:
  - /
  - /css/style.css
images:
  - /images/hero-img.webp
`,
		},
		{
			name: "toml",
			file: "manifest.toml",
			content: `
static = ["/", "/css/style.css"]
images = ["/images/hero-img.webp"]
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Load(writeFile(t, tt.file, tt.content))
			require.NoError(t, err)
			assert.Equal(t, []string{"/", "/css/style.css"}, m.Static)
			assert.Equal(t, []string{"/images/hero-img.webp"}, m.Images)
		})
	}
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(writeFile(t, "manifest.json", `{"static": []}`))
	assert.Error(t, err, "unsupported extension")

	_, err = Load(writeFile(t, "manifest.yaml", "static: [\"\"]\n"))
	assert.Error(t, err, "empty entry")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default().Manifest

	m, err := FromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, cfg.Static, m.Static)
	assert.Equal(t, cfg.Images, m.Images)

	cfg.File = writeFile(t, "manifest.yml", "static: [/index.html]\n")
	m, err = FromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"/index.html"}, m.Static)
	assert.Empty(t, m.Images)
}
