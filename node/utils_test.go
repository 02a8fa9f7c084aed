package node

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sushantsondhi/dcoord/common"
	"github.com/sushantsondhi/dcoord/persistent"
)

func Test_ClockAndCoordinatorPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pstore.db")
	pstore, err := persistent.NewPStore(path)
	require.NoError(t, err)

	assert.Equal(t, int64(0), getClock(pstore))
	assert.Equal(t, common.ProcessID(4), getCoordinator(pstore, 4))

	assert.NoError(t, setClock(pstore, 42))
	assert.NoError(t, setCoordinator(pstore, 1))
	assert.NoError(t, pstore.Close())

	pstore, err = persistent.NewPStore(path)
	require.NoError(t, err)
	defer pstore.Close()
	assert.Equal(t, int64(42), getClock(pstore))
	assert.Equal(t, common.ProcessID(1), getCoordinator(pstore, 4))
}

func Test_GarbledValuesFallBackToDefaults(t *testing.T) {
	pstore, err := persistent.NewPStore(filepath.Join(t.TempDir(), "pstore.db"))
	require.NoError(t, err)
	defer pstore.Close()

	assert.NoError(t, pstore.Set([]byte(common.Clock), []byte("not-a-number")))
	assert.NoError(t, pstore.Set([]byte(common.Coordinator), []byte("?")))
	assert.Equal(t, int64(0), getClock(pstore))
	assert.Equal(t, common.ProcessID(2), getCoordinator(pstore, 2))
}
