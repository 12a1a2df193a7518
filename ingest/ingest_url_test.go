package ingest_test

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tidbyt.dev/gtfsingest/downloader"
)

// zipBytes builds the same zip writeArchive does, but in memory, since
// an httptest.Server handler serves bytes rather than a path.
func zipBytes(t *testing.T, files map[string][]string) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	w := zip.NewWriter(buf)
	for name, lines := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(strings.Join(lines, "\n")))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// TestLoadFromURLFetchesAndLoadsArchive exercises the downloader path:
// an httptest.Server stands in for a real GTFS static feed URL,
// LoadFromURL fetches it through downloader.Memory, and the resulting
// namespace has exactly the rows the served archive describes.
func TestLoadFromURLFetchesAndLoadsArchive(t *testing.T) {
	var gotHeader string
	archive := zipBytes(t, cloneFeed(minimalFeed))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Api-Key")
		w.Write(archive)
	}))
	defer srv.Close()

	p := newPipeline(t)
	dl := downloader.NewMemory()
	opts := downloader.GetOptions{Timeout: 5 * time.Second}

	loadRes, err := p.LoadFromURL(context.Background(), dl, srv.URL, map[string]string{"X-Api-Key": "secret"}, opts, nil)
	require.NoError(t, err)
	require.Nil(t, loadRes.FatalException)
	require.Equal(t, "secret", gotHeader)
	require.Equal(t, srv.URL, loadRes.Filename)

	counts := map[string]int64{}
	for _, tbl := range loadRes.Tables {
		counts[tbl.Table] = tbl.RowCount
	}
	require.EqualValues(t, 2, counts["stops"])
	require.EqualValues(t, 1, counts["trips"])

	valRes, err := p.Validate(loadRes.Namespace, nil)
	require.NoError(t, err)
	require.Equal(t, 0, valRes.ErrorCount)
}

// TestLoadFromURLCachesThroughFilesystem matches the teacher's own
// downloader.Filesystem usage in cmd/main.go: a second fetch against a
// URL the server will now refuse should still succeed by reading the
// cached body from disk.
func TestLoadFromURLCachesThroughFilesystem(t *testing.T) {
	hits := 0
	archive := zipBytes(t, cloneFeed(minimalFeed))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write(archive)
	}))
	defer srv.Close()

	cacheFile := filepath.Join(t.TempDir(), "cache.json")
	fs, err := downloader.NewFilesystem(cacheFile)
	require.NoError(t, err)
	opts := downloader.GetOptions{Timeout: 5 * time.Second, Cache: true, CacheTTL: time.Hour}

	p1 := newPipeline(t)
	_, err = p1.LoadFromURL(context.Background(), fs, srv.URL, nil, opts, nil)
	require.NoError(t, err)
	require.Equal(t, 1, hits)

	srv.Close() // further real requests would now fail

	p2 := newPipeline(t)
	loadRes, err := p2.LoadFromURL(context.Background(), fs, srv.URL, nil, opts, nil)
	require.NoError(t, err)
	require.Nil(t, loadRes.FatalException)
	require.Equal(t, 1, hits) // served from the filesystem cache, not a second request
}
