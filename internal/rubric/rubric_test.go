package rubric

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlRubric = `
criteria:
  - id: commit_history
    name: Commit History
    target_capability: repo
    instruction: Look at the commits.
  - id: doc_quality
    name: Doc Quality
    target_capability: document
synthesis_rules:
  security: Confirmed defects cap the score.
`

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeTemp(t, "rubric.yaml", yamlRubric)
	cat, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cat.Criteria, 2)
	assert.Equal(t, "commit_history", cat.Criteria[0].ID)
	assert.Equal(t, CapabilityRepo, cat.Criteria[0].TargetCapability)
	assert.Contains(t, cat.SynthesisRules, "security")
}

func TestLoadJSON(t *testing.T) {
	path := writeTemp(t, "rubric.json", `{"criteria":[{"id":"x","name":"X","target_capability":"repo"}]}`)
	cat, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cat.Criteria, 1)
	assert.Equal(t, "x", cat.Criteria[0].ID)
}

func TestLoadCachesByPath(t *testing.T) {
	path := writeTemp(t, "rubric.yaml", yamlRubric)
	first, err := Load(path)
	require.NoError(t, err)
	second, err := Load(path)
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestLoadRejectsBadCatalogs(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	empty := writeTemp(t, "empty.yaml", "criteria: []")
	_, err = Load(empty)
	assert.ErrorContains(t, err, "no criteria")

	noID := writeTemp(t, "noid.yaml", "criteria:\n  - name: Unnamed\n    target_capability: repo\n")
	_, err = Load(noID)
	assert.ErrorContains(t, err, "has no id")
}

func TestDefaultCatalog(t *testing.T) {
	cat := Default()
	require.NotEmpty(t, cat.Criteria)
	assert.NotEmpty(t, cat.SynthesisRules)

	repo := cat.ByCapability(CapabilityRepo)
	assert.NotEmpty(t, repo)
	for _, c := range repo {
		assert.Equal(t, CapabilityRepo, c.TargetCapability)
	}
	assert.Empty(t, cat.ByCapability("bogus"))
}
