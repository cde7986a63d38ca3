// Package metadata resolves a market's content-addressed metadata reference
// by trying mirrors in order.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/alanyoungcy/marketmirror/internal/domain"
)

// DefaultCacheSize is used when the configured size is not positive.
const DefaultCacheSize = 1024

// Fetcher tries each provider in order; the first document that decodes
// wins. Content-addressed documents never change, so hits are cached
// without expiry.
type Fetcher struct {
	providers []Provider
	cache     *lru.Cache[string, domain.MarketMetadata]
	logger    *slog.Logger
}

// NewFetcher creates a fetcher over providers.
func NewFetcher(providers []Provider, cacheSize int, logger *slog.Logger) (*Fetcher, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, domain.MarketMetadata](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("metadata: create cache: %w", err)
	}
	return &Fetcher{
		providers: providers,
		cache:     cache,
		logger:    logger.With(slog.String("component", "metadata_fetcher")),
	}, nil
}

// Fetch returns the metadata for ref. When every provider fails the error
// wraps domain.ErrMetadataUnavailable and names each source with its cause.
func (f *Fetcher) Fetch(ctx context.Context, ref string) (domain.MarketMetadata, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return domain.MarketMetadata{}, fmt.Errorf("metadata: %w: empty reference", domain.ErrMetadataUnavailable)
	}
	if md, ok := f.cache.Get(ref); ok {
		return md, nil
	}

	var errs []error
	for _, p := range f.providers {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		md, err := fetchFrom(ctx, p, ref)
		if err != nil {
			f.logger.DebugContext(ctx, "metadata mirror failed",
				slog.String("provider", p.Name()),
				slog.String("ref", ref),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		f.cache.Add(ref, md)
		return md, nil
	}

	if len(errs) == 0 {
		errs = append(errs, errors.New("no providers configured"))
	}
	return domain.MarketMetadata{}, fmt.Errorf("metadata: fetch %s: %w: %w",
		ref, domain.ErrMetadataUnavailable, errors.Join(errs...))
}

func fetchFrom(ctx context.Context, p Provider, ref string) (domain.MarketMetadata, error) {
	raw, err := p.Fetch(ctx, ref)
	if err != nil {
		return domain.MarketMetadata{}, err
	}
	var md domain.MarketMetadata
	if err := json.Unmarshal(raw, &md); err != nil {
		return domain.MarketMetadata{}, fmt.Errorf("decode: %w", err)
	}
	if md.Question == "" {
		return domain.MarketMetadata{}, errors.New("decode: missing question")
	}
	return md, nil
}
