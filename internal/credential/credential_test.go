package credential

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveOrder(t *testing.T) {
	t.Setenv("UMBRELLA_TEST_TOKEN", "from-env")
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, Persist(path, "from-file"))

	tok, ok := Resolve(Static("from-flag"), File(path), Env("UMBRELLA_TEST_TOKEN"))
	assert.True(t, ok)
	assert.Equal(t, "from-flag", tok)

	tok, ok = Resolve(Static(""), File(path), Env("UMBRELLA_TEST_TOKEN"))
	assert.True(t, ok)
	assert.Equal(t, "from-file", tok)

	tok, ok = Resolve(Static(""), File(filepath.Join(t.TempDir(), "absent")), Env("UMBRELLA_TEST_TOKEN"))
	assert.True(t, ok)
	assert.Equal(t, "from-env", tok)
}

func TestResolveNothing(t *testing.T) {
	tok, ok := Resolve(Static("  "), nil, File(""), Env("UMBRELLA_TEST_UNSET_TOKEN"))
	assert.False(t, ok)
	assert.Empty(t, tok)
}

func TestPersistEmptyRemoves(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token")
	require.NoError(t, Persist(path, "abc"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, Persist(path, ""))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, Persist(path, ""))
	assert.Error(t, Persist("", "abc"))
}
