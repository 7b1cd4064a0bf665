package aggregate

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/incidentwatch/extract"
	"github.com/c360/incidentwatch/metric"
)

func newTestPipeline(t *testing.T) (*Pipeline, *Registry, string) {
	t.Helper()
	dir := t.TempDir()
	tables := testTables()
	registry := NewRegistry()
	extractor := extract.NewExtractor(tables.ExcludedUnitTypes, testLogger())
	agg := NewAggregator(extractor, tables, registry, testLogger())
	p := NewPipeline(dir, agg, extractor, registry, metric.NewMetrics(), testLogger())
	return p, registry, dir
}

func TestProcessAppliesDeletions(t *testing.T) {
	p, _, dir := newTestPipeline(t)
	stale := stage(t, dir, "100_1.xml", exportDoc("100", "", "10 Main St", "House Fire",
		[]fixtureUnit{engineUnit("E51")}))
	kept := stage(t, dir, "100_2.xml", exportDoc("100", "", "10 Main St", "House Fire",
		[]fixtureUnit{engineUnit("E51")}))

	groups, err := p.Process()
	require.NoError(t, err)
	require.Len(t, groups, 1)

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err), "superseded file is removed from disk")
	_, err = os.Stat(kept)
	assert.NoError(t, err)
}

func TestProcessLeavesRotationBackups(t *testing.T) {
	p, _, dir := newTestPipeline(t)
	kept := stage(t, dir, "100_1.xml", exportDoc("100", "", "10 Main St", "House Fire",
		[]fixtureUnit{engineUnit("E51")}))
	backup := stage(t, dir, "100_1.xml-1700000000.backup", exportDoc("100", "", "10 Main St", "House Fire",
		[]fixtureUnit{engineUnit("E51")}))

	groups, err := p.Process()
	require.NoError(t, err)
	require.Len(t, groups, 1)

	// The backup never enters the pass, so it is neither superseded nor
	// deleted, and the live export stays the winner.
	_, err = os.Stat(backup)
	assert.NoError(t, err, "rotation backup stays on disk")
	_, err = os.Stat(kept)
	assert.NoError(t, err)
}

func TestViewDeletesNothing(t *testing.T) {
	p, _, dir := newTestPipeline(t)
	stale := stage(t, dir, "100_1.xml", exportDoc("100", "", "10 Main St", "House Fire",
		[]fixtureUnit{engineUnit("E51")}))
	stage(t, dir, "100_2.xml", exportDoc("100", "", "10 Main St", "House Fire",
		[]fixtureUnit{engineUnit("E51")}))

	groups, err := p.View()
	require.NoError(t, err)
	require.Len(t, groups, 1)

	_, err = os.Stat(stale)
	assert.NoError(t, err, "read path leaves files alone")
}

func TestProcessUnreadableStagingDirectory(t *testing.T) {
	p, _, dir := newTestPipeline(t)
	require.NoError(t, os.RemoveAll(dir))

	_, err := p.Process()
	assert.Error(t, err)
}

func TestUnitsForCallUsesNewestFile(t *testing.T) {
	p, _, dir := newTestPipeline(t)
	stage(t, dir, "100_1.xml", exportDoc("100", "", "10 Main St", "House Fire",
		[]fixtureUnit{engineUnit("E51")}))
	stage(t, dir, "100_2.xml", exportDoc("100", "", "10 Main St", "House Fire",
		[]fixtureUnit{
			{id: "T51", unitType: "TRUCK"},
			engineUnit("E52"),
			engineUnit("E51"),
		}))

	units, err := p.UnitsForCall("100")
	require.NoError(t, err)
	require.Len(t, units, 3)

	// Sorted by unit type, then identifier.
	assert.Equal(t, "E51", units[0].UnitID)
	assert.Equal(t, "E52", units[1].UnitID)
	assert.Equal(t, "T51", units[2].UnitID)
}

func TestUnitsForCallUnknownCall(t *testing.T) {
	p, _, _ := newTestPipeline(t)

	units, err := p.UnitsForCall("999")
	require.NoError(t, err)
	assert.Nil(t, units)
}

func TestFilesForCall(t *testing.T) {
	p, _, dir := newTestPipeline(t)
	stage(t, dir, "100_1.xml", exportDoc("100", "", "10 Main St", "House Fire",
		[]fixtureUnit{engineUnit("E51")}))
	stage(t, dir, "100_2.xml", exportDoc("100", "", "10 Main St", "House Fire",
		[]fixtureUnit{engineUnit("E51")}))
	stage(t, dir, "200_1.xml", exportDoc("200", "", "20 Oak Ave", "Rescue",
		[]fixtureUnit{engineUnit("E52")}))

	names, err := p.FilesForCall("100")
	require.NoError(t, err)
	assert.Equal(t, []string{"100_1.xml", "100_2.xml"}, names)
}

func TestDeleteFile(t *testing.T) {
	p, _, dir := newTestPipeline(t)
	stage(t, dir, "100_1.xml", exportDoc("100", "", "10 Main St", "House Fire",
		[]fixtureUnit{engineUnit("E51")}))

	require.NoError(t, p.DeleteFile("100_1.xml"))
	_, err := os.Stat(filepath.Join(dir, "100_1.xml"))
	assert.True(t, os.IsNotExist(err))

	assert.Error(t, p.DeleteFile("100_1.xml"), "deleting a missing file errors")
	assert.Error(t, p.DeleteFile("../100_1.xml"), "path traversal is rejected")
	assert.Error(t, p.DeleteFile(""))
}

func TestExpireRemovesFilesAndRegistryEntries(t *testing.T) {
	p, registry, dir := newTestPipeline(t)
	now := time.Now()
	p.now = func() time.Time { return now }

	old := stage(t, dir, "100_1.xml", exportDoc("100", "", "10 Main St", "House Fire",
		[]fixtureUnit{engineUnit("E51")}))
	young := stage(t, dir, "200_1.xml", exportDoc("200", "", "20 Oak Ave", "Rescue",
		[]fixtureUnit{engineUnit("E52")}))

	registry.MarkDisplayed("100", now.Add(-361*time.Minute))
	registry.MarkDisplayed("200", now.Add(-10*time.Minute))

	expired, err := p.Expire(360 * time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	_, err = os.Stat(old)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(young)
	assert.NoError(t, err)

	_, tracked := registry.FirstDisplayed("100")
	assert.False(t, tracked)
	_, tracked = registry.FirstDisplayed("200")
	assert.True(t, tracked)
}

func TestStageFileCopiesIntoStaging(t *testing.T) {
	p, _, dir := newTestPipeline(t)
	srcDir := t.TempDir()
	content := exportDoc("100", "", "10 Main St", "House Fire", []fixtureUnit{engineUnit("E51")})
	src := filepath.Join(srcDir, "100_1.xml")
	require.NoError(t, os.WriteFile(src, []byte(content), 0o644))

	assert.False(t, p.Staged("100_1.xml"))
	require.NoError(t, p.StageFile(src))
	assert.True(t, p.Staged("100_1.xml"))

	copied, err := os.ReadFile(filepath.Join(dir, "100_1.xml"))
	require.NoError(t, err)
	assert.Equal(t, content, string(copied))

	// No stray temporaries remain.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStageFileMissingSource(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	assert.Error(t, p.StageFile(filepath.Join(t.TempDir(), "nope_1.xml")))
}
