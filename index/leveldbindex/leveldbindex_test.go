// Copyright IBM Corp. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package leveldbindex

import (
	"io/ioutil"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/paullcm/WiscKey/vlog"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	dir, err := ioutil.TempDir("", "wisckey-leveldbindex-test")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	db, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestGetPointerMissingIsNotAnError(t *testing.T) {
	db := newTestDB(t)
	_, ok, err := db.GetPointer([]byte("k1"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestWriteThenGetPointer(t *testing.T) {
	db := newTestDB(t)
	batch := vlog.NewPointerBatch()
	batch.Put([]byte("k1"), vlog.Pointer{VlogNumber: 1, Offset: 100, Size: 4})
	batch.Put([]byte("k2"), vlog.Pointer{VlogNumber: 1, Offset: 200, Size: 8})
	require.NoError(t, db.Write(batch))

	p1, ok, err := db.GetPointer([]byte("k1"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, vlog.Pointer{VlogNumber: 1, Offset: 100, Size: 4}, p1)

	p2, ok, err := db.GetPointer([]byte("k2"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, vlog.Pointer{VlogNumber: 1, Offset: 200, Size: 8}, p2)
}

func TestDeletePointerRemovesEntry(t *testing.T) {
	db := newTestDB(t)
	batch := vlog.NewPointerBatch()
	batch.Put([]byte("k1"), vlog.Pointer{VlogNumber: 1, Offset: 0, Size: 1})
	require.NoError(t, db.Write(batch))

	require.NoError(t, db.DeletePointer([]byte("k1")))
	_, ok, err := db.GetPointer([]byte("k1"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRawPutGetIsSeparateFromPointerSpace(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Put([]byte("tail"), []byte("payload")))

	v, ok, err := db.Get([]byte("tail"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("payload"), v)

	// A raw key and a pointer key with the same name must not collide.
	batch := vlog.NewPointerBatch()
	batch.Put([]byte("tail"), vlog.Pointer{VlogNumber: 9, Offset: 9, Size: 9})
	require.NoError(t, db.Write(batch))

	v, ok, err = db.Get([]byte("tail"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("payload"), v)

	ptr, ok, err := db.GetPointer([]byte("tail"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(9), ptr.VlogNumber)
}

func TestShutdown(t *testing.T) {
	db := newTestDB(t)
	require.False(t, db.IsShutdown())
	db.Shutdown()
	require.True(t, db.IsShutdown())
}
