// Copyright © 2024 OpenIM. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sink

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

func TestSeqKeyIsBigEndianOrdered(t *testing.T) {
	a := seqKey(1)
	b := seqKey(2)
	c := seqKey(256)
	assert.True(t, bytes.Compare(a, b) < 0)
	assert.True(t, bytes.Compare(b, c) < 0)

	var decoded uint64
	decoded = binary.BigEndian.Uint64(c)
	assert.EqualValues(t, 256, decoded)
}

func TestZipFileRoundTrips(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "jetstream_test.db")
	want := []byte("hydrated records, definitely not empty")
	require.NoError(t, os.WriteFile(src, want, 0o600))

	dst := filepath.Join(dir, "jetstream_test.db.zip")
	require.NoError(t, zipFile(src, dst))

	zr, err := zip.OpenReader(dst)
	require.NoError(t, err)
	defer zr.Close()
	require.Len(t, zr.File, 1)
	assert.Equal(t, filepath.Base(src), zr.File[0].Name)

	rc, err := zr.File[0].Open()
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestNewDefaultsRotationInterval(t *testing.T) {
	s := New(Config{DBDir: t.TempDir()}, nil, nil)
	assert.Equal(t, DefaultRotationInterval, s.cfg.RotationInterval)
}

func TestOpenNewDBLockedCreatesBucket(t *testing.T) {
	s := New(Config{DBDir: t.TempDir()}, nil, nil)
	require.NoError(t, s.openNewDBLocked())
	defer s.db.Close()

	assert.FileExists(t, s.dbPath)
	assert.NotZero(t, s.dbStart)
	require.NoError(t, s.db.View(func(tx *bbolt.Tx) error {
		assert.NotNil(t, tx.Bucket(recordsBucket))
		return nil
	}))
}
