package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Golden tests pin the full event trace of each scenario file down to the
// byte. Regenerate after intentional behavior changes with:
//
//	go test ./internal/harness -update

func TestGolden_ConcurrentTitleEdit(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", "concurrent-title-edit.yaml"))
	require.NoError(t, err)

	result, err := RunWithGolden(t, scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "assertions failed: %v", result.Errors)
}

func TestGolden_AutoResolveTimeout(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", "auto-resolve-timeout.yaml"))
	require.NoError(t, err)

	result, err := RunWithGolden(t, scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "assertions failed: %v", result.Errors)
}
