package persistence

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/dhtpubsub/address"
)

func addr(b byte) address.Address {
	var a address.Address
	a[0] = b
	return a
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "topics.db")

	snapshots := []Snapshot{
		{
			Topic:       addr(1),
			Touched:     time.Unix(1700000000, 0),
			Subscribers: []address.Address{addr(2), addr(3)},
		},
		{
			Topic:       addr(4),
			Touched:     time.Unix(1700000100, 0),
			Subscribers: nil,
		},
	}

	require.NoError(t, Save(path, snapshots))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	assert.Equal(t, snapshots[0].Topic, loaded[0].Topic)
	assert.Equal(t, snapshots[0].Touched.Unix(), loaded[0].Touched.Unix())
	assert.Equal(t, snapshots[0].Subscribers, loaded[0].Subscribers)

	assert.Equal(t, snapshots[1].Topic, loaded[1].Topic)
	assert.Empty(t, loaded[1].Subscribers)
}

func TestLoadMissingFileReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	loaded, err := Load(filepath.Join(dir, "missing.db"))
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestLoadRejectsCorruptFrame(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "corrupt.db")
	require.NoError(t, Save(path, []Snapshot{{Topic: addr(9), Touched: time.Now()}}))

	// Truncate the file so its length prefix no longer matches the body.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)-4], 0o600))

	_, err = Load(path)
	assert.Error(t, err)
}
