package daemon

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIDFile_WriteAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parley-serve.pid")
	pf := NewPIDFile(path)

	require.NoError(t, pf.WritePID(12345))

	pid, err := pf.Read()
	require.NoError(t, err)
	assert.Equal(t, 12345, pid)
}

func TestPIDFile_Acquire(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parley-serve.pid")
	pf := NewPIDFile(path)

	require.NoError(t, pf.Acquire())

	pid, err := pf.Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestPIDFile_Acquire_AlreadyRunning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parley-serve.pid")
	pf := NewPIDFile(path)

	// Our own PID counts as a live holder.
	require.NoError(t, pf.WritePID(os.Getpid()))

	err := pf.Acquire()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestPIDFile_Acquire_ReplacesStale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parley-serve.pid")
	pf := NewPIDFile(path)

	// A PID this high almost certainly does not exist.
	require.NoError(t, pf.WritePID(999999))

	require.NoError(t, pf.Acquire())
	pid, err := pf.Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestPIDFile_Read_MissingFile(t *testing.T) {
	pf := NewPIDFile(filepath.Join(t.TempDir(), "nonexistent.pid"))
	_, err := pf.Read()
	assert.Error(t, err)
}

func TestPIDFile_Read_InvalidContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pid")
	require.NoError(t, os.WriteFile(path, []byte("not-a-number\n"), 0o600))

	_, err := NewPIDFile(path).Read()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid PID file content")
}

func TestPIDFile_Remove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parley-serve.pid")
	pf := NewPIDFile(path)
	require.NoError(t, pf.WritePID(1))

	require.NoError(t, pf.Remove())

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestPIDFile_IsRunning_CurrentProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parley-serve.pid")
	pf := NewPIDFile(path)
	require.NoError(t, pf.WritePID(os.Getpid()))

	pid, running := pf.IsRunning()
	assert.True(t, running)
	assert.Equal(t, os.Getpid(), pid)
}

func TestPIDFile_IsRunning_DeadProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parley-serve.pid")
	pf := NewPIDFile(path)
	require.NoError(t, pf.WritePID(999999))

	pid, running := pf.IsRunning()
	assert.Equal(t, 999999, pid)
	assert.False(t, running)
}

func TestPIDFile_IsRunning_NoFile(t *testing.T) {
	pf := NewPIDFile(filepath.Join(t.TempDir(), "nonexistent.pid"))

	pid, running := pf.IsRunning()
	assert.Equal(t, 0, pid)
	assert.False(t, running)
}

func TestPIDFile_Signal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parley-serve.pid")
	pf := NewPIDFile(path)
	require.NoError(t, pf.WritePID(os.Getpid()))

	// Signal 0 only checks that the process exists.
	assert.NoError(t, pf.Signal(syscall.Signal(0)))
}

func TestPIDFile_Signal_NoFile(t *testing.T) {
	pf := NewPIDFile(filepath.Join(t.TempDir(), "nonexistent.pid"))

	err := pf.Signal(syscall.Signal(0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read PID file")
}
