// Package storetest holds the behaviour every port.Store driver shares.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/google/uuid"
	"github.com/mbientlab/metabase/internal/core/domain"
	"github.com/mbientlab/metabase/internal/core/port"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Opener opens an empty store that publishes to events.
type Opener func(t *testing.T, events *eventstream.EventStream) port.Store

type recorder struct {
	mu     sync.Mutex
	events []any
}

func (r *recorder) record(evt any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) kinds() []domain.SessionsChangeKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kinds []domain.SessionsChangeKind
	for _, evt := range r.events {
		if e, ok := evt.(domain.SessionsChangedEvent); ok {
			kinds = append(kinds, e.Kind)
		}
	}
	return kinds
}

func testSession(name, group string, date time.Time, macs ...string) (domain.Session, []domain.File) {
	session := domain.Session{
		Name:      name,
		Date:      date,
		GroupId:   group,
		Devices:   macs,
		Completed: true,
	}
	var files []domain.File
	for _, mac := range macs {
		files = append(files, domain.File{
			Name: domain.MACId(mac) + "_Accelerometer.csv",
			CSV:  []byte("epoch (ms),time (+00:00),elapsed (s),x-axis (g)\n1,2,0.000,0.5000\n"),
		})
	}
	return session, files
}

func Run(t *testing.T, open Opener) {
	t.Run("AddAndFetch", func(t *testing.T) { testAddAndFetch(t, open) })
	t.Run("Query", func(t *testing.T) { testQuery(t, open) })
	t.Run("RenameDuplicateDelete", func(t *testing.T) { testRenameDuplicateDelete(t, open) })
	t.Run("Tokens", func(t *testing.T) { testTokens(t, open) })
	t.Run("Legacy", func(t *testing.T) { testLegacy(t, open) })
}

func testAddAndFetch(t *testing.T, open Opener) {

	assert := assert.New(t)
	require := require.New(t)

	es := &eventstream.EventStream{}
	rec := &recorder{}
	es.Subscribe(rec.record)
	store := open(t, es)
	ctx := context.Background()

	date := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	session, files := testSession("walk", "legs", date, "F5:6C:BE:D5:61:47", "C8:4B:AA:97:50:05")
	saved, err := store.AddSession(ctx, session, files)
	require.NoError(err)
	assert.NotEqual(uuid.Nil, saved.Id)
	assert.Len(saved.Files, 2)

	all, err := store.FetchAllSessions(ctx)
	require.NoError(err)
	require.Len(all, 1)
	assert.Equal(saved.Id, all[0].Id)
	assert.Equal("walk", all[0].Name)
	assert.Equal([]string{"F5:6C:BE:D5:61:47", "C8:4B:AA:97:50:05"}, all[0].Devices)
	assert.Equal(saved.Files, all[0].Files)
	assert.True(date.Equal(all[0].Date))
	assert.True(all[0].Completed)

	fetched, err := store.FetchFiles(ctx, saved.Id)
	require.NoError(err)
	require.Len(fetched, 2)
	assert.Equal(files[0].Name, fetched[0].Name)
	assert.Equal(files[0].CSV, fetched[0].CSV)

	file, err := store.FetchFile(ctx, saved.Files[1])
	require.NoError(err)
	assert.Equal(files[1].Name, file.Name)

	_, err = store.FetchFile(ctx, uuid.New())
	assert.ErrorIs(err, domain.ErrFileNotFound)
	_, err = store.FetchFiles(ctx, uuid.New())
	assert.ErrorIs(err, domain.ErrSessionNotFound)

	assert.Equal([]domain.SessionsChangeKind{domain.SessionsAdded}, rec.kinds())
}

func testQuery(t *testing.T, open Opener) {

	assert := assert.New(t)
	require := require.New(t)

	store := open(t, nil)
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, s := range []struct {
		name, group, mac string
	}{
		{"Morning Walk", "legs", "F5:6C:BE:D5:61:47"},
		{"evening walk", "legs", "C8:4B:AA:97:50:05"},
		{"desk", "", "F5:6C:BE:D5:61:47"},
	} {
		session, files := testSession(s.name, s.group, base.Add(time.Duration(i)*time.Hour), s.mac)
		_, err := store.AddSession(ctx, session, files)
		require.NoError(err)
	}

	all, err := store.FetchAllSessions(ctx)
	require.NoError(err)
	require.Len(all, 3)
	assert.Equal("desk", all[0].Name, "newest first")

	byGroup, err := store.FetchSessions(ctx, port.SessionQuery{GroupId: "legs"})
	require.NoError(err)
	assert.Len(byGroup, 2)

	byMAC, err := store.FetchSessions(ctx, port.SessionQuery{DeviceMAC: "F5:6C:BE:D5:61:47"})
	require.NoError(err)
	assert.Len(byMAC, 2)

	byName, err := store.FetchSessions(ctx, port.SessionQuery{Name: "WALK"})
	require.NoError(err)
	assert.Len(byName, 2)

	none, err := store.FetchSessions(ctx, port.SessionQuery{GroupId: "legs", Name: "desk"})
	require.NoError(err)
	assert.Empty(none)
}

func testRenameDuplicateDelete(t *testing.T, open Opener) {

	assert := assert.New(t)
	require := require.New(t)

	es := &eventstream.EventStream{}
	rec := &recorder{}
	es.Subscribe(rec.record)
	store := open(t, es)
	ctx := context.Background()

	session, files := testSession("walk", "legs", time.Now(), "F5:6C:BE:D5:61:47")
	saved, err := store.AddSession(ctx, session, files)
	require.NoError(err)

	renamed, err := store.RenameSession(ctx, saved.Id, "run")
	require.NoError(err)
	assert.Equal("run", renamed.Name)
	assert.Equal(saved.Files, renamed.Files)

	dup, err := store.DuplicateSession(ctx, saved.Id, "")
	require.NoError(err)
	assert.NotEqual(saved.Id, dup.Id)
	assert.Equal("run copy", dup.Name)
	require.Len(dup.Files, 1)
	assert.NotEqual(saved.Files[0], dup.Files[0])

	dupFiles, err := store.FetchFiles(ctx, dup.Id)
	require.NoError(err)
	assert.Equal(files[0].CSV, dupFiles[0].CSV)

	require.NoError(store.DeleteSession(ctx, saved.Id))
	_, err = store.FetchFile(ctx, saved.Files[0])
	assert.ErrorIs(err, domain.ErrFileNotFound)
	_, err = store.FetchFile(ctx, dup.Files[0])
	assert.NoError(err, "the copy keeps its files")

	assert.ErrorIs(store.DeleteSession(ctx, saved.Id), domain.ErrSessionNotFound)
	_, err = store.RenameSession(ctx, saved.Id, "x")
	assert.ErrorIs(err, domain.ErrSessionNotFound)

	assert.Equal([]domain.SessionsChangeKind{
		domain.SessionsAdded, domain.SessionsRenamed, domain.SessionsDuplicated, domain.SessionsDeleted,
	}, rec.kinds())
}

func testTokens(t *testing.T, open Opener) {

	assert := assert.New(t)
	require := require.New(t)

	store := open(t, nil)
	ctx := context.Background()

	_, ok, err := store.Token(ctx, "F5:6C:BE:D5:61:47")
	require.NoError(err)
	assert.False(ok)

	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(store.Register(ctx, domain.LoggingToken{MAC: "F5:6C:BE:D5:61:47", StartDate: start, SessionName: "walk"}))
	require.NoError(store.Register(ctx, domain.LoggingToken{MAC: "C8:4B:AA:97:50:05", StartDate: start, SessionName: "walk"}))

	token, ok, err := store.Token(ctx, "F5:6C:BE:D5:61:47")
	require.NoError(err)
	assert.True(ok)
	assert.Equal("walk", token.SessionName)
	assert.True(start.Equal(token.StartDate))

	tokens, err := store.Tokens(ctx)
	require.NoError(err)
	assert.Len(tokens, 2)

	require.NoError(store.Release(ctx, "F5:6C:BE:D5:61:47"))
	require.NoError(store.Release(ctx, "F5:6C:BE:D5:61:47"))
	tokens, err = store.Tokens(ctx)
	require.NoError(err)
	assert.Len(tokens, 1)
}

// LegacyWriter is implemented by drivers that can seed legacy blobs.
type LegacyWriter interface {
	PutLegacyValue(ctx context.Context, key string, value []byte) error
}

func testLegacy(t *testing.T, open Opener) {

	assert := assert.New(t)
	require := require.New(t)

	store := open(t, nil)
	ctx := context.Background()

	value, err := store.LegacyValue(ctx, "missing")
	require.NoError(err)
	assert.Nil(value)

	writer, ok := store.(LegacyWriter)
	require.True(ok)
	require.NoError(writer.PutLegacyValue(ctx, "k", []byte("v")))
	value, err = store.LegacyValue(ctx, "k")
	require.NoError(err)
	assert.Equal([]byte("v"), value)

	require.NoError(store.MarkImported(ctx, "F5:6C:BE:D5:61:47"))
	require.NoError(store.MarkImported(ctx, "F5:6C:BE:D5:61:47"))
	macs, err := store.ImportedDevices(ctx)
	require.NoError(err)
	assert.Equal([]string{"F5:6C:BE:D5:61:47"}, macs)
}
