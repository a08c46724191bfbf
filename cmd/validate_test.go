package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"firestige.xyz/meshtel/internal/core"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meshtel.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRunValidate(t *testing.T) {
	tests := []struct {
		name    string
		content string
		print   bool
		want    string
		wantErr bool
	}{
		{
			name: "valid file",
			content: `meshtel:
  node:
    port: 5678
  mesh:
    prefix: "fd00::/64"
    root_addr: "fd00::1"
`,
			want: "VALID: ",
		},
		{
			name: "invalid port",
			content: `meshtel:
  node:
    port: 70000
`,
			wantErr: true,
		},
		{
			name: "print effective config",
			content: `meshtel:
  clock:
    ticks_per_second: 1000
`,
			print: true,
			want:  "ticks_per_second: 1000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			var out bytes.Buffer

			err := runValidate(path, tt.print, &out)

			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, core.ErrConfigInvalid)
				assert.Contains(t, err.Error(), "INVALID")
				return
			}
			require.NoError(t, err)
			assert.Contains(t, out.String(), tt.want)
		})
	}
}

func TestRunValidatePrintRoundTrips(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, runValidate("", true, &out))

	first, rest, ok := bytes.Cut(out.Bytes(), []byte("\n"))
	require.True(t, ok)
	assert.Contains(t, string(first), "VALID: defaults")

	var root map[string]map[string]any
	require.NoError(t, yaml.Unmarshal(rest, &root))
	require.Contains(t, root, "meshtel")
	assert.Contains(t, root["meshtel"], "node")
	assert.Contains(t, root["meshtel"], "telemetry")
}
