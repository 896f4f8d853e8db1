package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/adaptivestudy/internal/engine"
	"github.com/example/adaptivestudy/internal/excel"
	"github.com/example/adaptivestudy/internal/spaced_repetition"
	"github.com/example/adaptivestudy/internal/telemetry"
)

const engineYAML = `
blueprint:
  targets:
    fractions: 0.6
    decimals: 0.4
stop_rule:
  min_items: 3
`

const itemsCSV = `id,los,difficulty,thresholds,median_seconds
f1,fractions,-0.5,,30
f2,fractions,0.5,,40
d1,decimals,0,,20
d2,decimals;fractions,1,-0.5;0.5,60
`

func setupWorkspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	enginePath := filepath.Join(dir, "engine.yaml")
	require.NoError(t, os.WriteFile(enginePath, []byte(engineYAML), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "items.csv"), []byte(itemsCSV), 0o600))

	t.Setenv("DB_TYPE", "sqlite")
	t.Setenv("DB_PATH", filepath.Join(dir, "study.db"))
	t.Setenv("ENGINE_CONFIG", enginePath)
	t.Setenv("TELEMETRY_BUFFER", "64")
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(&app{logger: zap.NewNop()})
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append([]string{"--env="}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestImportNextAnswerPlan(t *testing.T) {
	dir := setupWorkspace(t)

	out, err := run(t, "import", filepath.Join(dir, "items.csv"))
	require.NoError(t, err)
	var imported excel.ImportResult
	require.NoError(t, json.Unmarshal([]byte(out), &imported))
	assert.Equal(t, 4, imported.Created)
	assert.Zero(t, imported.Skipped)

	out, err = run(t, "next", "--learner", "l1", "--session", "s1")
	require.NoError(t, err)
	var rec engine.Recommendation
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, "l1", rec.LearnerID)
	assert.Contains(t, []string{"fractions", "decimals"}, rec.LoID)
	require.NotEmpty(t, rec.Selection.ItemID)
	assert.Equal(t, engine.DeriveSeed("l1", "s1", 0), rec.Seed)

	out, err = run(t, "answer", "--learner", "l1", "--session", "s1",
		"--item", rec.Selection.ItemID, "--correct", "--response-ms", "1200")
	require.NoError(t, err)
	var outcome engine.AttemptOutcome
	require.NoError(t, json.Unmarshal([]byte(out), &outcome))
	assert.Equal(t, rec.Selection.ItemID, outcome.ItemID)
	require.NotEmpty(t, outcome.Updates)
	for _, u := range outcome.Updates {
		assert.Greater(t, u.ThetaAfter, u.ThetaBefore)
	}

	out, err = run(t, "plan", "--learner", "l1", "--minutes", "50")
	require.NoError(t, err)
	var plan spaced_repetition.Plan
	require.NoError(t, json.Unmarshal([]byte(out), &plan))
	assert.Equal(t, 0.4, plan.BudgetShare)
	assert.InDelta(t, 20, plan.BudgetMinutes, 1e-9)
	assert.Zero(t, plan.DueCount)

	out, err = run(t, "events", "--learner", "l1")
	require.NoError(t, err)
	var events []telemetry.Envelope
	require.NoError(t, json.Unmarshal([]byte(out), &events))
	kinds := make(map[telemetry.Kind]bool)
	for _, ev := range events {
		kinds[ev.Kind] = true
	}
	assert.True(t, kinds[telemetry.KindAttemptRecorded], "telemetry is flushed before the command exits")
	assert.True(t, kinds[telemetry.KindItemSelected])

	out, err = run(t, "remind", "--learner", "l1")
	require.NoError(t, err)
	assert.Contains(t, out, `"notified": false`)
}

func TestAnswerRejectsUnknownItem(t *testing.T) {
	dir := setupWorkspace(t)
	_, err := run(t, "import", filepath.Join(dir, "items.csv"))
	require.NoError(t, err)

	_, err = run(t, "answer", "--learner", "l1", "--session", "s1", "--item", "nope", "--correct")
	require.ErrorIs(t, err, engine.ErrUnknownItem)
}

func TestNextWithoutCatalogFails(t *testing.T) {
	setupWorkspace(t)
	_, err := run(t, "next", "--learner", "l1")
	require.Error(t, err)
}

func TestCommandArgumentErrors(t *testing.T) {
	setupWorkspace(t)

	_, err := run(t, "import", filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)

	_, err = run(t, "events", "--learner", "l1", "--limit", "0")
	assert.Error(t, err)

	_, err = run(t, "next")
	assert.Error(t, err, "--learner is required")
}

func TestBadEnvironmentFailsBeforeRunning(t *testing.T) {
	setupWorkspace(t)
	t.Setenv("SWEEP_INTERVAL", "soon")
	_, err := run(t, "plan", "--learner", "l1")
	assert.Error(t, err)
}
