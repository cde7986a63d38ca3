package metadata

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/marketmirror/internal/domain"
)

// maxDocumentSize caps a metadata document read from any mirror.
const maxDocumentSize = 1 << 20

// Provider is one mirror of the content-addressed store.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// Gateway fetches references from an HTTP gateway as <baseURL>/<cid>.
type Gateway struct {
	baseURL    string
	httpClient *http.Client
}

// NewGateway creates a gateway provider.
func NewGateway(baseURL string, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Gateway{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Name returns the gateway URL.
func (g *Gateway) Name() string { return g.baseURL }

// Fetch GETs the document for ref.
func (g *Gateway) Fetch(ctx context.Context, ref string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/"+contentID(ref), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, domain.ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return readDocument(resp.Body)
}

// Blob reads references from an object-store mirror.
type Blob struct {
	name   string
	reader domain.BlobReader
}

// NewBlob wraps a BlobReader as a provider.
func NewBlob(name string, reader domain.BlobReader) *Blob {
	return &Blob{name: name, reader: reader}
}

// Name returns the provider name.
func (b *Blob) Name() string { return b.name }

// Fetch reads the object keyed by the reference's content id.
func (b *Blob) Fetch(ctx context.Context, ref string) ([]byte, error) {
	rc, err := b.reader.Get(ctx, contentID(ref))
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return readDocument(rc)
}

func readDocument(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxDocumentSize+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(data) > maxDocumentSize {
		return nil, fmt.Errorf("document exceeds %d bytes", maxDocumentSize)
	}
	return data, nil
}

// contentID strips a URI scheme such as ipfs:// from ref.
func contentID(ref string) string {
	if i := strings.Index(ref, "://"); i >= 0 {
		return ref[i+3:]
	}
	return strings.TrimPrefix(ref, "/")
}
