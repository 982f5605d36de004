package credentials

import (
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-dev/parley/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(t.TempDir())
	s.machineID = func() []byte { return []byte("testhost:testuser") }
	return s
}

func TestLoad_NoFile(t *testing.T) {
	s := newTestStore(t)

	creds, err := s.Load()
	require.NoError(t, err)
	assert.Nil(t, creds)
	assert.False(t, s.Has())
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	s := newTestStore(t)

	err := s.Save(&models.Credentials{Type: models.AuthAPIKey, Value: "sk-ant-test-key"})
	require.NoError(t, err)
	assert.True(t, s.Has())

	creds, err := s.Load()
	require.NoError(t, err)
	require.NotNil(t, creds)
	assert.Equal(t, models.AuthAPIKey, creds.Type)
	assert.Equal(t, "sk-ant-test-key", creds.Value)
	assert.False(t, creds.CreatedAt.IsZero())
}

func TestSave_Overwrites(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Save(&models.Credentials{Type: models.AuthAPIKey, Value: "old"}))
	require.NoError(t, s.Save(&models.Credentials{Type: models.AuthOAuthToken, Value: "new"}))

	creds, err := s.Load()
	require.NoError(t, err)
	require.NotNil(t, creds)
	assert.Equal(t, models.AuthOAuthToken, creds.Type)
	assert.Equal(t, "new", creds.Value)
}

func TestSave_FileMode(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	s.machineID = func() []byte { return []byte("h:u") }

	require.NoError(t, s.Save(&models.Credentials{Type: models.AuthAPIKey, Value: "v"}))

	info, err := os.Stat(filepath.Join(dir, "credentials.enc"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestSave_FreshSaltAndNonce(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Save(&models.Credentials{Type: models.AuthAPIKey, Value: "same"}))
	first := readEnvelope(t, s.path)

	require.NoError(t, s.Save(&models.Credentials{Type: models.AuthAPIKey, Value: "same"}))
	second := readEnvelope(t, s.path)

	assert.NotEqual(t, first.Salt, second.Salt)
	assert.NotEqual(t, first.IV, second.IV)
}

func TestLoad_TamperedCiphertext_ReturnsNil(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(&models.Credentials{Type: models.AuthAPIKey, Value: "secret"}))

	tamperHexField(t, s, func(env *envelope) *string { return &env.Data })

	creds, err := s.Load()
	require.NoError(t, err)
	assert.Nil(t, creds, "tampered ciphertext must decrypt to nothing")
}

func TestLoad_TamperedAuthTag_ReturnsNil(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(&models.Credentials{Type: models.AuthAPIKey, Value: "secret"}))

	tamperHexField(t, s, func(env *envelope) *string { return &env.AuthTag })

	creds, err := s.Load()
	require.NoError(t, err)
	assert.Nil(t, creds)
}

func TestLoad_GarbageFile_ReturnsNil(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(s.path, []byte("not an envelope"), 0o600))

	creds, err := s.Load()
	require.NoError(t, err)
	assert.Nil(t, creds)
}

func TestLoad_DifferentMachine_ReturnsNil(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(&models.Credentials{Type: models.AuthAPIKey, Value: "secret"}))

	s.machineID = func() []byte { return []byte("otherhost:otheruser") }

	creds, err := s.Load()
	require.NoError(t, err)
	assert.Nil(t, creds)
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(&models.Credentials{Type: models.AuthAPIKey, Value: "v"}))

	require.NoError(t, s.Delete())
	assert.False(t, s.Has())

	// Deleting again is not an error.
	require.NoError(t, s.Delete())
}

func readEnvelope(t *testing.T, path string) envelope {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

// tamperHexField flips one byte of a hex-encoded envelope field and
// writes the envelope back.
func tamperHexField(t *testing.T, s *Store, field func(*envelope) *string) {
	t.Helper()
	env := readEnvelope(t, s.path)

	target := field(&env)
	raw, err := hex.DecodeString(*target)
	require.NoError(t, err)
	raw[0] ^= 0xff
	*target = hex.EncodeToString(raw)

	data, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.path, data, 0o600))
}
