//go:build linux

package msr

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRoot lays out <root>/<n>/msr as sparse regular files large enough to
// hold the mailbox offset; pread/pwrite behave like the real nodes.
func fakeRoot(t *testing.T, cores int) string {
	t.Helper()
	root := t.TempDir()
	for i := 0; i < cores; i++ {
		dir := filepath.Join(root, strconv.Itoa(i))
		require.NoError(t, os.MkdirAll(dir, 0o755))
		f, err := os.Create(filepath.Join(dir, "msr"))
		require.NoError(t, err)
		require.NoError(t, f.Truncate(0x1000))
		require.NoError(t, f.Close())
	}
	return root
}

func TestDiscover(t *testing.T) {
	root := fakeRoot(t, 3)
	n, err := Discover(root)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = Discover(t.TempDir())
	assert.ErrorIs(t, err, ErrUnsupportedRegister)
}

func TestDevice_ReadWrite(t *testing.T) {
	root := fakeRoot(t, 2)
	d, err := NewDevice(Config{Root: root, Register: 0x150})
	require.NoError(t, err)
	require.Equal(t, 2, d.Cores())

	require.NoError(t, d.Write(1, 0x80000011f9a00000))
	v, err := d.Read(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x80000011f9a00000), v)

	// little-endian at the register offset
	raw, err := os.ReadFile(filepath.Join(root, "1", "msr"))
	require.NoError(t, err)
	assert.Equal(t, uint64(0x80000011f9a00000), binary.LittleEndian.Uint64(raw[0x150:0x158]))

	v, err = d.Read(0)
	require.NoError(t, err)
	assert.Zero(t, v)
}

func TestDevice_CoreOutOfRange(t *testing.T) {
	d, err := NewDevice(Config{Root: fakeRoot(t, 1), Register: 0x150})
	require.NoError(t, err)

	_, err = d.Read(1)
	assert.ErrorIs(t, err, ErrCoreIndexOutOfRange)
	assert.ErrorIs(t, d.Write(-1, 0), ErrCoreIndexOutOfRange)
}

func TestDevice_MissingNode(t *testing.T) {
	d, err := NewDevice(Config{Root: t.TempDir(), Register: 0x150, Cores: 1})
	require.NoError(t, err)

	_, err = d.Read(0)
	assert.ErrorIs(t, err, ErrUnsupportedRegister)
}

func TestDevice_ShortRead(t *testing.T) {
	root := fakeRoot(t, 1)
	// register offset beyond EOF
	d, err := NewDevice(Config{Root: root, Register: 0x2000})
	require.NoError(t, err)

	_, err = d.Read(0)
	assert.ErrorIs(t, err, ErrUnsupportedRegister)
}

func TestDevice_PermissionDenied(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root bypasses file modes")
	}
	root := fakeRoot(t, 1)
	require.NoError(t, os.Chmod(filepath.Join(root, "0", "msr"), 0o000))

	d, err := NewDevice(Config{Root: root, Register: 0x150})
	require.NoError(t, err)

	_, err = d.Read(0)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.ErrorIs(t, d.Write(0, 1), ErrPermissionDenied)
}
