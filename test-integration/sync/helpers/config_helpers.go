package helpers

import (
	"fmt"
	"path/filepath"

	"github.com/onsi/gomega"

	"github.com/stacklok/record-sync/internal/config"
)

// fastSync keeps cycles short so specs settle within a few seconds
const fastSync = `
sync:
  batchSize: 2
  pollInterval: 50ms
  overlapWindow: 1s
  retry:
    maxAttempts: 3
    initialInterval: 5ms
    maxInterval: 20ms
`

// MemoryPipelineConfig returns a pipeline copying a seeded memory source into a memory target
func MemoryPipelineConfig(dir, name string, seed int) *config.Config {
	return parseConfig(fmt.Sprintf(`
name: %s
%s
source:
  type: memory
  seed: %d
target:
  type: memory
state:
  type: file
  path: %s
`, name, fastSync, seed, filepath.Join(dir, "state")))
}

// SQLitePipelineConfig returns a pipeline between two SQLite files with bolt state,
// so that every part of it survives a restart
func SQLitePipelineConfig(dir, name string) *config.Config {
	return parseConfig(fmt.Sprintf(`
name: %s
%s
source:
  type: sqlite
  path: %s
target:
  type: sqlite
  path: %s
  emitEvents: true
state:
  type: bolt
  path: %s
`, name, fastSync, SourcePath(dir), TargetPath(dir), filepath.Join(dir, "state")))
}

// SourcePath is the source database file of SQLitePipelineConfig
func SourcePath(dir string) string {
	return filepath.Join(dir, "source.db")
}

// TargetPath is the target database file of SQLitePipelineConfig
func TargetPath(dir string) string {
	return filepath.Join(dir, "target.db")
}

func parseConfig(doc string) *config.Config {
	cfg, err := config.Parse([]byte(doc))
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	return cfg
}
