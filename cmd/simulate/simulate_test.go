package simulate

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiopolicy/internal/conf"
	"github.com/tphakala/audiopolicy/internal/errors"
	"github.com/tphakala/audiopolicy/internal/policy"
)

func testSettings() *conf.Settings {
	return &conf.Settings{Policy: policy.DefaultSettings()}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := Command(testSettings())
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSimulatePassingScenario(t *testing.T) {
	out, err := execute(t, "--routing", filepath.Join("..", "..", "internal", "scenario", "testdata", "headset_call.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "connect")
	assert.Contains(t, out, "0 failed")
	assert.Contains(t, out, "Phone state")
}

func TestSimulateFailingScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fail.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`name: wrong-route
steps:
  - action: expect_route
    stream: music
    expect:
      device: earpiece
`), 0o600))

	out, err := execute(t, path)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
	assert.Contains(t, out, "FAIL")
	assert.Contains(t, out, "1 failed")
}

func TestSimulateRequiresScenario(t *testing.T) {
	_, err := execute(t)
	require.Error(t, err)

	_, err = execute(t, filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
