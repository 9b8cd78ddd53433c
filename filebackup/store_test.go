package filebackup

import (
	"testing"

	"github.com/relex/eventbuf/base"
	"github.com/relex/gotils/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreSaveOpenRemove(t *testing.T) {
	mf := base.NewMetricFactory("teststore_saveopen_", nil, nil)
	store := New(logger.Root(), t.TempDir(), "buf", mf)
	defer store.Close()

	chunk := base.TaggedChunk{Tag: "app.access", Region: &base.Region{Data: []byte("payload")}, Limit: 7}
	saved, err := store.Save(chunk)
	require.NoError(t, err)
	assert.Equal(t, "app.access", saved.Tag)
	assert.Equal(t, int64(0), saved.Generation)

	data, oerr := store.Open(saved)
	require.NoError(t, oerr)
	assert.Equal(t, []byte("payload"), data)

	require.NoError(t, store.Remove(saved))
	_, oerr = store.Open(saved)
	assert.Error(t, oerr, "file must be gone after Remove")
}

func TestStoreGenerationsIncrementPerTag(t *testing.T) {
	mf := base.NewMetricFactory("teststore_gen_", nil, nil)
	store := New(logger.Root(), t.TempDir(), "buf", mf)
	defer store.Close()

	chunk := base.TaggedChunk{Tag: "t", Region: &base.Region{Data: []byte("a")}, Limit: 1}
	first, err := store.Save(chunk)
	require.NoError(t, err)
	second, err := store.Save(chunk)
	require.NoError(t, err)

	assert.Equal(t, int64(0), first.Generation)
	assert.Equal(t, int64(1), second.Generation)
}

func TestStoreScanFindsFilesAcrossTagsAndRestartsGenerationCounter(t *testing.T) {
	mf := base.NewMetricFactory("teststore_scan_", nil, nil)
	root := t.TempDir()

	store1 := New(logger.Root(), root, "buf", mf)
	chunkA := base.TaggedChunk{Tag: "a", Region: &base.Region{Data: []byte("1")}, Limit: 1}
	chunkB := base.TaggedChunk{Tag: "b", Region: &base.Region{Data: []byte("2")}, Limit: 1}
	_, err := store1.Save(chunkA)
	require.NoError(t, err)
	_, err = store1.Save(chunkB)
	require.NoError(t, err)
	store1.Close()

	mf2 := base.NewMetricFactory("teststore_scan2_", nil, nil)
	store2 := New(logger.Root(), root, "buf", mf2)
	defer store2.Close()

	found, serr := store2.Scan()
	require.NoError(t, serr)
	assert.Len(t, found, 2)

	tags := map[string]bool{}
	for _, f := range found {
		tags[f.Tag] = true
	}
	assert.True(t, tags["a"])
	assert.True(t, tags["b"])

	// generation counter must resume after the highest scanned generation, not restart at 0
	next, err := store2.Save(chunkA)
	require.NoError(t, err)
	assert.Equal(t, int64(1), next.Generation)
}

func TestFilenameGrammarRoundTrip(t *testing.T) {
	name := makeFilename("buf", 42)
	generation, ok := parseGeneration("buf", name)
	require.True(t, ok)
	assert.Equal(t, int64(42), generation)

	_, ok = parseGeneration("other", name)
	assert.False(t, ok)
}
