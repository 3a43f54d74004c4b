package importer

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/mbientlab/metabase/internal/adapter/store/boltstore"
	"github.com/mbientlab/metabase/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const legacyBlob = `{
  "mac": "F5:6C:BE:D5:61:47",
  "name": "left",
  "sessions": [
    {
      "id": "3f1c1c0e-8d0a-4bd4-9a55-0d2f5a4e8c11",
      "name": "morning walk",
      "date": "2021-03-04T08:15:00Z",
      "group": "legs",
      "devices": ["F5:6C:BE:D5:61:47", "C8:4B:AA:97:50:05"],
      "files": [
        {"name": "left_Accelerometer.csv", "csv": "epoch (ms),x-axis (g)\n1614845700000,0.01\n"},
        {"name": "right_Accelerometer.csv", "csv": "epoch (ms),x-axis (g)\n1614845700000,0.02\n"}
      ]
    },
    {
      "name": "sprint",
      "date": "2021-03-05T10:00:00Z",
      "files": [{"name": "left_Gyroscope.csv", "csv": "epoch (ms),x-axis (deg/s)\n"}]
    }
  ]
}`

func newStore(t *testing.T) *boltstore.Store {
	store, err := boltstore.Open(filepath.Join(t.TempDir(), "metabase.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestImport(t *testing.T) {

	assert := assert.New(t)
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.PutLegacyValue(ctx, LegacyKey("F5:6C:BE:D5:61:47"), []byte(legacyBlob)))

	imp := New(store, zap.Must(zap.NewDevelopment()))
	res, err := imp.Import(ctx, "f5:6c:be:d5:61:47")
	require.NoError(t, err)
	assert.Len(res.Sessions, 2)
	assert.Equal(0, res.Skipped)

	walk := res.Sessions[0]
	assert.Equal("3f1c1c0e-8d0a-4bd4-9a55-0d2f5a4e8c11", walk.Id.String())
	assert.Equal("legs", walk.GroupId)
	assert.True(walk.Completed)
	files, err := store.FetchFiles(ctx, walk.Id)
	require.NoError(t, err)
	assert.Len(files, 2)

	sprint := res.Sessions[1]
	assert.Equal([]string{"F5:6C:BE:D5:61:47"}, sprint.Devices)

	_, err = imp.Import(ctx, "F5:6C:BE:D5:61:47")
	assert.ErrorIs(err, domain.ErrAlreadyImported)

	all, err := store.FetchAllSessions(ctx)
	require.NoError(t, err)
	assert.Len(all, 2)
}

func TestImportMissingData(t *testing.T) {

	assert := assert.New(t)
	imp := New(newStore(t), zap.Must(zap.NewDevelopment()))

	_, err := imp.Import(context.Background(), "C8:4B:AA:97:50:05")
	assert.ErrorIs(err, domain.ErrNoDataToImport)
}

func TestImportAllSkipsSharedSessions(t *testing.T) {

	assert := assert.New(t)
	ctx := context.Background()
	store := newStore(t)
	right := `{"mac": "C8:4B:AA:97:50:05", "sessions": [{
	  "id": "3f1c1c0e-8d0a-4bd4-9a55-0d2f5a4e8c11",
	  "name": "morning walk",
	  "date": "2021-03-04T08:15:00Z",
	  "group": "legs"
	}]}`
	require.NoError(t, store.PutLegacyValue(ctx, LegacyKey("F5:6C:BE:D5:61:47"), []byte(legacyBlob)))
	require.NoError(t, store.PutLegacyValue(ctx, LegacyKey("C8:4B:AA:97:50:05"), []byte(right)))

	imp := New(store, zap.Must(zap.NewDevelopment()))
	results, err := imp.ImportAll(ctx, []string{"F5:6C:BE:D5:61:47", "C8:4B:AA:97:50:05", "D1:D2:D3:D4:D5:D6"})
	require.NoError(t, err)
	if assert.Len(results, 2) {
		assert.Len(results[0].Sessions, 2)
		assert.Empty(results[1].Sessions)
		assert.Equal(1, results[1].Skipped)
	}

	imported, err := store.ImportedDevices(ctx)
	require.NoError(t, err)
	assert.ElementsMatch([]string{"F5:6C:BE:D5:61:47", "C8:4B:AA:97:50:05"}, imported)

	// a second boot finds nothing to do
	results, err = imp.ImportAll(ctx, []string{"F5:6C:BE:D5:61:47", "C8:4B:AA:97:50:05"})
	require.NoError(t, err)
	assert.Empty(results)
}

func TestImportRejectsCorruptBlob(t *testing.T) {

	assert := assert.New(t)
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.PutLegacyValue(ctx, LegacyKey("F5:6C:BE:D5:61:47"), []byte("{not json")))

	imp := New(store, zap.Must(zap.NewDevelopment()))
	_, err := imp.Import(ctx, "F5:6C:BE:D5:61:47")
	assert.Error(err)

	imported, err := store.ImportedDevices(ctx)
	require.NoError(t, err)
	assert.Empty(imported)
}
