package boltstore

import (
	"path/filepath"
	"testing"

	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/mbientlab/metabase/internal/adapter/store/storetest"
	"github.com/mbientlab/metabase/internal/core/port"
	"github.com/stretchr/testify/require"
)

func TestBoltStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T, events *eventstream.EventStream) port.Store {
		store, err := Open(filepath.Join(t.TempDir(), "metabase.db"), events)
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		return store
	})
}
