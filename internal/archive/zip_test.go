package archive_test

import (
	"archive/zip"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vrsandeep/feedsub-go/internal/archive"
	"github.com/vrsandeep/feedsub-go/internal/models"
)

func newDownload(t *testing.T) *models.Download {
	t.Helper()
	dl := models.NewDownload(models.NewLink("https://example.com/feed"), t.TempDir(), time.Now())
	return &dl
}

func writeFile(t *testing.T, dir, name string, data []byte) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, data, 0644))
}

// randomBytes is effectively incompressible, so zip output size tracks
// input size and part splitting is predictable.
func randomBytes(n int) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(1)).Read(b)
	return b
}

func zipEntryNames(t *testing.T, path string) []string {
	t.Helper()
	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()
	var names []string
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	return names
}

func TestBuild_SinglePart(t *testing.T) {
	dl := newDownload(t)
	writeFile(t, dl.StoragePath, "b.jpg", []byte("two"))
	writeFile(t, dl.StoragePath, "a.jpg", []byte("one"))
	writeFile(t, dl.StoragePath, "a.jpg.json", []byte("{}")) // sidecar, excluded
	writeFile(t, dl.StoragePath, "archive.sqlite", []byte("db"))

	snap, err := archive.Build(dl, "example.com_feed", 1<<30)
	require.NoError(t, err)
	defer snap.Close()

	require.Len(t, snap.Parts, 1)
	assert.Equal(t, "example.com_feed.zip", filepath.Base(snap.Parts[0]))
	assert.Equal(t, []string{"a.jpg", "b.jpg"}, zipEntryNames(t, snap.Parts[0]))
}

func TestBuild_SplitsAtMaxPartSize(t *testing.T) {
	dl := newDownload(t)
	for _, name := range []string{"a.bin", "b.bin", "c.bin"} {
		writeFile(t, dl.StoragePath, name, randomBytes(400*1024))
	}

	snap, err := archive.Build(dl, "feed", 500*1024)
	require.NoError(t, err)
	defer snap.Close()

	require.Len(t, snap.Parts, 2)
	assert.Equal(t, "feed.part01.zip", filepath.Base(snap.Parts[0]))
	assert.Equal(t, "feed.part02.zip", filepath.Base(snap.Parts[1]))

	var all []string
	for _, part := range snap.Parts {
		all = append(all, zipEntryNames(t, part)...)
	}
	assert.ElementsMatch(t, []string{"a.bin", "b.bin", "c.bin"}, all)
}

func TestBuild_EmptyStorageYieldsEmptyArchive(t *testing.T) {
	dl := newDownload(t)

	snap, err := archive.Build(dl, "feed", 1<<30)
	require.NoError(t, err)
	defer snap.Close()

	require.Len(t, snap.Parts, 1)
	assert.Equal(t, "feed.zip", filepath.Base(snap.Parts[0]))
	assert.Empty(t, zipEntryNames(t, snap.Parts[0]))
}

func TestBuild_KeepsRelativePathsForNestedFiles(t *testing.T) {
	dl := newDownload(t)
	writeFile(t, dl.StoragePath, filepath.Join("gallery", "01.jpg"), []byte("x"))

	snap, err := archive.Build(dl, "feed", 1<<30)
	require.NoError(t, err)
	defer snap.Close()

	assert.Equal(t, []string{"gallery/01.jpg"}, zipEntryNames(t, snap.Parts[0]))
}

func TestSnapshot_HoldsZipLockUntilClose(t *testing.T) {
	dl := newDownload(t)
	writeFile(t, dl.StoragePath, "a.jpg", []byte("x"))

	snap, err := archive.Build(dl, "feed", 1<<30)
	require.NoError(t, err)

	assert.False(t, dl.ZipLock().TryLock(), "zip lock must be held while the snapshot lives")

	partDir := filepath.Dir(snap.Parts[0])
	require.NoError(t, snap.Close())
	assert.True(t, dl.ZipLock().TryLock())
	dl.ZipLock().Unlock()

	_, err = os.Stat(partDir)
	assert.True(t, os.IsNotExist(err), "part directory must be removed on close")

	// Close is idempotent.
	assert.NoError(t, snap.Close())
}
