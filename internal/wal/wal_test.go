package wal

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkilian/docrune/pkg/types"
)

func insertOf(id string, version int) Mutation {
	return Mutation{
		Op:           OpInsert,
		PartitionKey: types.String("Baby Foods"),
		ID:           id,
		Document: types.Document{
			"id":        types.String(id),
			"foodGroup": types.String("Baby Foods"),
			"version":   types.Number(float64(version)),
		},
	}
}

func openTest(t *testing.T, dir string, maxSeg int64) *WAL {
	t.Helper()
	w, err := Open(Options{Dir: dir, MaxSegmentSize: maxSeg, SyncEveryWrite: true})
	require.NoError(t, err)
	return w
}

func TestWAL_AppendAndRead(t *testing.T) {
	dir := t.TempDir()
	w := openTest(t, dir, 0)
	defer w.Close()

	lsn, err := w.Append(context.Background(), insertOf("19294", 1))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), lsn)

	_, err = w.Append(context.Background(), Mutation{Op: OpDelete, PartitionKey: types.String("Baby Foods"), ID: "19294"})
	require.NoError(t, err)

	entries, err := ReadEntries(filepath.Join(dir, segmentName(0)), nil)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, OpInsert, entries[0].Op)
	assert.True(t, types.Equal(types.String("Baby Foods"), entries[0].PartitionKey))
	assert.True(t, types.Equal(types.Number(1), entries[0].Document["version"]))
	assert.Equal(t, OpDelete, entries[1].Op)
	assert.Nil(t, entries[1].Document)
}

func TestWAL_SegmentRotation(t *testing.T) {
	dir := t.TempDir()
	w := openTest(t, dir, 256)
	defer w.Close()

	for i := 0; i < 20; i++ {
		_, err := w.Append(context.Background(), insertOf(fmt.Sprint(i), i))
		require.NoError(t, err)
	}

	segments, err := listSegments(dir)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(segments), 2)

	var lsns []uint64
	_, err = w.Recover(context.Background(), 0, func(e *Entry) error {
		lsns = append(lsns, e.LSN)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, lsns, 20)
	for i, lsn := range lsns {
		assert.Equal(t, uint64(i+1), lsn)
	}
}

func TestWAL_CRCMismatchSkipsEntry(t *testing.T) {
	dir := t.TempDir()
	w := openTest(t, dir, 0)
	_, err := w.Append(context.Background(), insertOf("a", 1))
	require.NoError(t, err)
	_, err = w.Append(context.Background(), insertOf("b", 2))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	path := filepath.Join(dir, segmentName(0))
	file, err := os.OpenFile(path, os.O_RDWR, 0644)
	require.NoError(t, err)
	var header [8]byte
	_, err = io.ReadFull(file, header[:])
	require.NoError(t, err)
	crc := binary.LittleEndian.Uint32(header[4:8])
	binary.LittleEndian.PutUint32(header[4:8], crc^0xFFFFFFFF)
	_, err = file.WriteAt(header[4:8], 4)
	require.NoError(t, err)
	require.NoError(t, file.Close())

	entries, err := ReadEntries(path, nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "b", entries[0].ID)
}

func TestWAL_TruncatedTail(t *testing.T) {
	dir := t.TempDir()
	w := openTest(t, dir, 0)
	_, err := w.Append(context.Background(), insertOf("a", 1))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	path := filepath.Join(dir, segmentName(0))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.Write([]byte{200, 0, 0, 0, 1, 2, 3, 4, 9})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	entries, err := ReadEntries(path, nil)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	// reopening drops the torn frame so new appends stay readable
	w2 := openTest(t, dir, 0)
	_, err = w2.Append(context.Background(), insertOf("b", 2))
	require.NoError(t, err)
	require.NoError(t, w2.Close())

	entries, err = ReadEntries(path, nil)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(2), entries[1].LSN)
}

func TestWAL_ConcurrentAppend(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(Options{Dir: dir})
	require.NoError(t, err)
	defer w.Close()

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_, err := w.Append(context.Background(), insertOf(fmt.Sprintf("%d-%d", g, i), i))
				assert.NoError(t, err)
			}
		}(g)
	}
	wg.Wait()
	require.NoError(t, w.Sync())

	entries, err := ReadEntries(filepath.Join(dir, segmentName(0)), nil)
	require.NoError(t, err)
	assert.Len(t, entries, 500)
	assert.Equal(t, uint64(500), w.CurrentLSN())
}

func TestWAL_ReopenContinuesLSN(t *testing.T) {
	dir := t.TempDir()
	w1 := openTest(t, dir, 0)
	for i := 0; i < 10; i++ {
		_, err := w1.Append(context.Background(), insertOf(fmt.Sprint(i), i))
		require.NoError(t, err)
	}
	require.NoError(t, w1.Close())

	w2 := openTest(t, dir, 0)
	defer w2.Close()
	assert.Equal(t, uint64(10), w2.CurrentLSN())

	lsn, err := w2.Append(context.Background(), insertOf("next", 11))
	require.NoError(t, err)
	assert.Equal(t, uint64(11), lsn)
}

func TestWAL_RecoverAfterCheckpointAndTruncate(t *testing.T) {
	dir := t.TempDir()
	w := openTest(t, dir, 0)
	defer w.Close()

	for i := 0; i < 5; i++ {
		_, err := w.Append(context.Background(), insertOf(fmt.Sprint(i), i))
		require.NoError(t, err)
	}
	require.NoError(t, w.Rotate())
	for i := 5; i < 8; i++ {
		_, err := w.Append(context.Background(), insertOf(fmt.Sprint(i), i))
		require.NoError(t, err)
	}

	removed, err := w.Truncate(5)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	var ids []string
	n, err := w.Recover(context.Background(), 5, func(e *Entry) error {
		ids = append(ids, e.ID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"5", "6", "7"}, ids)
}
