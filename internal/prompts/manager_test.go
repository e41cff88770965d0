package prompts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	for _, name := range []string{PlannerGeneral, PlannerAcademic, StepGeneral, StepAcademic, ReportGeneral, ReportAcademic} {
		assert.NotEmpty(t, Default(name), name)
	}
	assert.Empty(t, Default("nope"))

	academic := Default(ReportAcademic)
	for _, section := range []string{"Abstract", "Introduction", "Methodology", "Findings", "Discussion", "Conclusion", "References"} {
		assert.Contains(t, academic, section)
	}
	assert.Contains(t, Default(PlannerGeneral), `"steps"`)
}

func TestManager_Overrides(t *testing.T) {
	dir := t.TempDir()

	files := map[string]string{
		"step_general.md": "Custom step prompt",
		"notes.txt":       "ignored",
		"prompts.yaml":    "report_general: |\n  Pack report prompt\nstep_general: pack loses to file\n",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}

	pm := NewManager(dir)
	require.NoError(t, pm.Load())

	assert.Equal(t, "Custom step prompt", pm.Get(StepGeneral))
	assert.Equal(t, "Pack report prompt", pm.Get(ReportGeneral))
	assert.Equal(t, Default(StepAcademic), pm.Get(StepAcademic))
	assert.Equal(t, []string{ReportGeneral, StepGeneral}, pm.Overridden())
}

func TestManager_MissingDirectory(t *testing.T) {
	pm := NewManager(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, pm.Load())
	assert.Equal(t, Default(PlannerAcademic), pm.Get(PlannerAcademic))

	var empty Manager
	assert.Equal(t, Default(ReportGeneral), empty.Get(ReportGeneral))
}

func TestManager_BadPack(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, PackFile), []byte("- just\n- a list\n"), 0644))
	assert.Error(t, NewManager(dir).Load())
}
