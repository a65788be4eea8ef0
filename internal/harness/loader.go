package harness

import (
	"os"
	"path/filepath"
	"testing"

	yaml "gopkg.in/yaml.v3"

	"github.com/stretchr/testify/require"

	"github.com/715d/devirt/internal/model"
	"github.com/715d/devirt/pkg/devirt"
)

// LoaderConfig configures program loading for one configuration.
type LoaderConfig struct {
	// Dir is the test case directory.
	Dir string

	// Paths are files relative to Dir.
	Paths []string

	// Workers bounds parsing parallelism.
	Workers int
}

// LoadProgram loads the program facts described by loaderCfg.
func LoadProgram(t *testing.T, loaderCfg *LoaderConfig) (*model.Program, error) {
	t.Helper()

	paths := make([]string, 0, len(loaderCfg.Paths))
	for _, p := range loaderCfg.Paths {
		paths = append(paths, filepath.Join(loaderCfg.Dir, p))
	}

	t.Logf("Loading program from %v", paths)
	return devirt.LoadProgram(t.Context(), devirt.LoaderOptions{
		Paths:   paths,
		Workers: loaderCfg.Workers,
	})
}

// LoadTestCase reads dir/expected.yaml. Unknown keys are rejected so a
// misspelled expectation cannot pass silently. The case is named by its path
// relative to root, or by its base name when root is empty.
func LoadTestCase(t *testing.T, dir, root string) *TestCase {
	t.Helper()

	f, err := os.Open(filepath.Join(dir, "expected.yaml"))
	require.NoError(t, err)
	defer f.Close()

	tc := &TestCase{}
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	require.NoError(t, dec.Decode(tc), "decoding %s", dir)

	tc.Dir = filepath.Base(dir)
	if root == "" {
		return tc
	}
	if rel, err := filepath.Rel(root, dir); err == nil {
		tc.Dir = rel
	}
	return tc
}
