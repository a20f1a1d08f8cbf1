package store

import (
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrcgq/zhc/internal/content"
)

func nullLog() *logrus.Entry {
	l, _ := test.NewNullLogger()
	return logrus.NewEntry(l)
}

func TestSaveLoadInMemory(t *testing.T) {
	c, err := OpenInMemory(nullLog())
	require.NoError(t, err)
	defer c.Close()

	_, ok, err := c.Load()
	require.NoError(t, err)
	assert.False(t, ok)

	want := content.New([]byte("cached content"))
	require.NoError(t, c.Save(want))

	got, ok, err := c.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)

	next := content.New([]byte("replaced"))
	require.NoError(t, c.Save(next))
	got, _, err = c.Load()
	require.NoError(t, err)
	assert.Equal(t, next.Hash, got.Hash)

	require.NoError(t, c.Clear())
	_, ok, err = c.Load()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	c, err := Open(dir, nullLog())
	require.NoError(t, err)
	want := content.New([]byte("survives restart"))
	require.NoError(t, c.Save(want))
	require.NoError(t, c.Close())

	c, err = Open(dir, nullLog())
	require.NoError(t, err)
	defer c.Close()

	got, ok, err := c.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want.Data, got.Data)
	assert.Equal(t, want.Hash, got.Hash)
}

func TestCorruptEntryIgnored(t *testing.T) {
	c, err := OpenInMemory(nullLog())
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Save(content.New([]byte("original"))))
	require.NoError(t, c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyData, []byte("tampered"))
	}))

	_, ok, err := c.Load()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOpenEmptyDir(t *testing.T) {
	_, err := Open("", nil)
	assert.Error(t, err)
}
