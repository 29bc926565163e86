package mirrorlog

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

func readFile(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(name)
	require.NoError(t, err)
	return data
}

func TestWriter_RotatesThroughBoundedFiles(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "mirror.")

	var rotated []string
	w, err := Open(prefix, 100, 2)
	require.NoError(t, err)
	w.OnRotate = func(name string) { rotated = append(rotated, name) }
	defer func() { _ = w.Close() }()

	data := payload(250)
	n, err := w.Write(data)
	require.NoError(t, err)
	assert.Equal(t, 250, n)

	assert.Equal(t, 2, w.Rotations())
	assert.Equal(t, []string{prefix + "1", prefix + "0"}, rotated)
	assert.Equal(t, prefix+"0", w.Name())

	assert.Equal(t, data[100:200], readFile(t, prefix+"1"))
	assert.Equal(t, data[200:], readFile(t, prefix+"0"))

	_, err = os.Stat(prefix + "2")
	assert.True(t, os.IsNotExist(err))
}

func TestWriter_ChunkedWritesNeverExceedLimit(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "m")

	w, err := Open(prefix, 100, 2)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	data := payload(250)
	for _, chunk := range [][]byte{data[:30], data[30:160], data[160:]} {
		n, err := w.Write(chunk)
		require.NoError(t, err)
		assert.Equal(t, len(chunk), n)
	}

	assert.Equal(t, 2, w.Rotations())
	assert.Len(t, readFile(t, prefix+"1"), 100)
	assert.Equal(t, data[200:], readFile(t, prefix+"0"))
}

func TestWriter_UnboundedFileCount(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "m")

	w, err := Open(prefix, 10, 0)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	_, err = w.Write(payload(35))
	require.NoError(t, err)

	assert.Equal(t, 3, w.Rotations())
	for _, name := range []string{"0", "1", "2"} {
		assert.Len(t, readFile(t, prefix+name), 10)
	}
	assert.Len(t, readFile(t, prefix+"3"), 5)
}

func TestWriter_SingleFileTruncatedAtStart(t *testing.T) {
	name := filepath.Join(t.TempDir(), "mirror.log")
	require.NoError(t, os.WriteFile(name, []byte("stale contents"), 0644))

	w, err := Open(name, 0, 0)
	require.NoError(t, err)

	_, err = w.Write([]byte("abc"))
	require.NoError(t, err)
	_, err = w.Write([]byte("def"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.Equal(t, []byte("abcdef"), readFile(t, name))
	assert.Zero(t, w.Rotations())

	info, err := os.Stat(name)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestWriter_WriteAfterClose(t *testing.T) {
	w, err := Open(filepath.Join(t.TempDir(), "m"), 0, 0)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	n, err := w.Write([]byte("x"))
	assert.Error(t, err)
	assert.Zero(t, n)
}

func TestOpen_Invalid(t *testing.T) {
	_, err := Open("", 0, 0)
	assert.Error(t, err)

	_, err = Open(filepath.Join(t.TempDir(), "m"), -1, 0)
	assert.Error(t, err)

	_, err = Open(filepath.Join(t.TempDir(), "missing", "dir", "m"), 0, 0)
	assert.Error(t, err)
}

func TestWriter_RotationRecreatesFile(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "m")

	w, err := Open(prefix, 4, 1)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	_, err = w.Write([]byte("aaaabb"))
	require.NoError(t, err)

	assert.True(t, bytes.Equal([]byte("bb"), readFile(t, prefix+"0")))
}
