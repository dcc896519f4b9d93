package export

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/headline-cli/internal/article"
	"github.com/xkilldash9x/headline-cli/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestFilename(t *testing.T) {
	cases := []struct {
		name, title, url, want string
	}{
		{"plain", "Rain falls", "https://img.example/a/b.jpg", "Rain falls.jpg"},
		{"strips reserved", `A<b>:"c"/d\e|f?g*h`, "https://x/y.png", "Abcdefgh.png"},
		{"caps at twenty runes", "Årets största nyhet är här nu", "https://x/p.jpeg", "Årets största nyhet .jpeg"},
		{"ignores query", "t", "https://x/p.webp?w=300&h=200", "t.webp"},
		{"no extension", "t", "https://x/image", "t"},
		{"empty title", " :? ", "https://x/p.jpg", "thumbnail.jpg"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Filename(tc.title, tc.url))
		})
	}
}

func TestWorkbookRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "Articles.xlsx")
	date := time.Date(2024, 5, 17, 0, 0, 0, 0, time.UTC)
	articles := []article.Article{
		{Title: "First", Date: date, Description: "d1", PictureURL: "https://x/1.jpg", TitlePhraseCount: 2, MentionsMoney: true},
		{Title: "Second", Date: date, Description: "d2"},
	}

	require.NoError(t, WriteWorkbook(path, "", articles))

	rows, err := ReadWorkbook(path, "")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, article.Columns, rows[0])
	assert.Equal(t, "First", rows[1][0])
	assert.Equal(t, "2024-05-17T00:00:00", rows[1][1])
	assert.Equal(t, "2", rows[1][5])
	assert.Equal(t, "TRUE", rows[1][7])
	assert.Equal(t, "Second", rows[2][0])
}

func TestWorkbookEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.xlsx")
	require.NoError(t, WriteWorkbook(path, "Results", nil))

	rows, err := ReadWorkbook(path, "Results")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, article.Columns, rows[0])

	_, err = ReadWorkbook(path, "Missing")
	assert.Error(t, err)
}

func TestDownload(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/missing.jpg" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("img:" + r.URL.Path))
	}))
	defer srv.Close()

	dir := filepath.Join(t.TempDir(), "downloads")
	d := NewDownloader(config.OutputConfig{DownloadsDir: dir, DownloadConcurrency: 2, DownloadRate: 100}, srv.Client(), zaptest.NewLogger(t))

	in := []article.Article{
		{Title: "One", PictureURL: srv.URL + "/one.jpg"},
		{Title: "No picture"},
		{Title: "Gone", PictureURL: srv.URL + "/missing.jpg"},
		{Title: "Three: the sequel", PictureURL: srv.URL + "/three.png"},
	}
	out, err := d.Download(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, out, len(in))
	assert.Empty(t, in[0].PictureLocalPath, "input is not modified")

	assert.Equal(t, filepath.Join(dir, "One.jpg"), out[0].PictureLocalPath)
	assert.Empty(t, out[1].PictureLocalPath)
	assert.Empty(t, out[2].PictureLocalPath)
	assert.Equal(t, filepath.Join(dir, "Three the sequel.png"), out[3].PictureLocalPath)
	assert.Equal(t, int32(3), hits.Load())

	data, err := os.ReadFile(out[0].PictureLocalPath)
	require.NoError(t, err)
	assert.Equal(t, "img:/one.jpg", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temp files are left behind")
}

func TestDownloadSharedNamePrefix(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("img:" + r.URL.Path))
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := NewDownloader(config.OutputConfig{DownloadsDir: dir, DownloadConcurrency: 3}, srv.Client(), zaptest.NewLogger(t))

	in := []article.Article{
		{Title: "Storm warning for the coast", PictureURL: srv.URL + "/coast.jpg"},
		{Title: "Storm warning for the bay", PictureURL: srv.URL + "/bay.jpg"},
		{Title: "STORM WARNING FOR THE valley", PictureURL: srv.URL + "/valley.jpg"},
		{Title: "Rain-2", PictureURL: srv.URL + "/literal.jpg"},
		{Title: "Rain", PictureURL: srv.URL + "/rain.jpg"},
		{Title: "Rain", PictureURL: srv.URL + "/rain-again.jpg"},
	}
	out, err := d.Download(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "Storm warning for th.jpg"), out[0].PictureLocalPath)
	assert.Equal(t, filepath.Join(dir, "Storm warning for th-2.jpg"), out[1].PictureLocalPath)
	assert.Equal(t, filepath.Join(dir, "STORM WARNING FOR TH-3.jpg"), out[2].PictureLocalPath)
	assert.Equal(t, filepath.Join(dir, "Rain-2.jpg"), out[3].PictureLocalPath)
	assert.Equal(t, filepath.Join(dir, "Rain.jpg"), out[4].PictureLocalPath)
	assert.Equal(t, filepath.Join(dir, "Rain-3.jpg"), out[5].PictureLocalPath)

	for i, want := range []string{"/coast.jpg", "/bay.jpg", "/valley.jpg", "/literal.jpg", "/rain.jpg", "/rain-again.jpg"} {
		data, err := os.ReadFile(out[i].PictureLocalPath)
		require.NoError(t, err)
		assert.Equal(t, "img:"+want, string(data))
	}
}

func TestDownloadCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	d := NewDownloader(config.OutputConfig{DownloadsDir: t.TempDir(), DownloadConcurrency: 1}, srv.Client(), zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := d.Download(ctx, []article.Article{{Title: "a", PictureURL: srv.URL + "/a.jpg"}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, out[0].PictureLocalPath)
}
