package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSerial struct {
	data []byte
	pos  int
}

func (m *memSerial) WriteData(buffer []byte, len int) error {
	m.data = append(m.data, buffer[:len]...)
	return nil
}

func (m *memSerial) ReadData(buffer []byte, len int) error {
	copy(buffer[:len], m.data[m.pos:m.pos+len])
	m.pos += len
	return nil
}

func (m *memSerial) Close() error {
	return nil
}

func TestSerializeSlice(t *testing.T) {
	m := &memSerial{}
	require.NoError(t, WriteSlice[uint64]([]uint64{1, 2, 3}, m))
	require.NoError(t, WriteString("abc", m))
	got, err := ReadSlice[uint64](m)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 3}, got)
	s, err := ReadString(m)
	require.NoError(t, err)
	assert.Equal(t, "abc", s)
}

func TestReentryLock(t *testing.T) {
	lock := NewReentryLock()
	lock.Lock()
	lock.Lock()
	lock.Unlock()
	lock.Unlock()
	assert.Panics(t, func() { lock.Unlock() })
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "colstore.toml")
	content := `
[storage]
path = "x.db"
vectorSize = 4
rowGroupVectors = 2

[log]
level = "debug"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, "x.db", cfg.Storage.Path)
	assert.Equal(t, uint64(4), cfg.Storage.VectorSize)
	assert.Equal(t, uint64(8), cfg.Storage.SegmentSize)
	assert.Equal(t, "debug", cfg.Log.Level)
	require.NoError(t, InitLogger(cfg.Log))
	Debug("logger replaced")
}

func TestFaultInject(t *testing.T) {
	assert.Nil(t, Check(FAULTS_SCOPE_STORAGE, "x"))
	Open(FAULTS_SCOPE_STORAGE)
	defer Close(FAULTS_SCOPE_STORAGE)
	called := 0
	Register(FAULTS_SCOPE_STORAGE, "x", []string{"a"}, func(args []string) error {
		called++
		assert.Equal(t, []string{"a"}, args)
		return nil
	})
	require.NoError(t, Inject(FAULTS_SCOPE_STORAGE, "x"))
	assert.Equal(t, 1, called)
	Unregister(FAULTS_SCOPE_STORAGE, "x")
	require.NoError(t, Inject(FAULTS_SCOPE_STORAGE, "x"))
	assert.Equal(t, 1, called)
}
