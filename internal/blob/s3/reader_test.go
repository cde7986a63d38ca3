package s3blob

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketmirror/internal/domain"
)

// fakeBucket serves path-style GET/HEAD requests for one bucket.
func fakeBucket(t *testing.T, objects map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := objects[r.URL.Path]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			if r.Method != http.MethodHead {
				_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
			}
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			_, _ = io.WriteString(w, body)
		}
	}))
}

func newTestReader(t *testing.T, srv *httptest.Server) *Reader {
	t.Helper()
	c, err := New(context.Background(), ClientConfig{
		Endpoint:       srv.URL,
		Region:         "us-east-1",
		Bucket:         "mirror",
		ForcePathStyle: true,
		Prefix:         "metadata/",
	})
	require.NoError(t, err)
	return NewReader(c)
}

func TestReader_Get(t *testing.T) {
	srv := fakeBucket(t, map[string]string{
		"/mirror/metadata/bafy123": `{"question":"q"}`,
	})
	defer srv.Close()
	r := newTestReader(t, srv)

	rc, err := r.Get(context.Background(), "bafy123")
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.JSONEq(t, `{"question":"q"}`, string(b))

	_, err = r.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReader_Exists(t *testing.T) {
	srv := fakeBucket(t, map[string]string{"/mirror/metadata/a": "{}"})
	defer srv.Close()
	r := newTestReader(t, srv)

	ok, err := r.Exists(context.Background(), "/a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.Exists(context.Background(), "b")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNew_RequiresBucketAndRegion(t *testing.T) {
	_, err := New(context.Background(), ClientConfig{Region: "us-east-1"})
	assert.Error(t, err)
	_, err = New(context.Background(), ClientConfig{Bucket: "b"})
	assert.Error(t, err)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("s3.example.com", true))
	assert.Equal(t, "http://127.0.0.1:9000", normaliseEndpoint("127.0.0.1:9000", false))
	assert.Equal(t, "http://x", normaliseEndpoint("http://x", true))
}
