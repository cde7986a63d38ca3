package service

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/marketmirror/internal/domain"
	"github.com/alanyoungcy/marketmirror/internal/platform/airesolver"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type memResolutions struct {
	mu      sync.Mutex
	latest  map[uint64]domain.Resolution
	upserts int
}

func (m *memResolutions) Upsert(_ context.Context, rec domain.Resolution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latest == nil {
		m.latest = make(map[uint64]domain.Resolution)
	}
	m.latest[rec.MarketID] = rec
	m.upserts++
	return nil
}

func (m *memResolutions) Get(_ context.Context, id uint64) (domain.Resolution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.latest[id]
	if !ok {
		return domain.Resolution{}, domain.ErrNotFound
	}
	return rec, nil
}

func (m *memResolutions) History(_ context.Context, id uint64) ([]domain.ResolutionSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.latest[id]
	if !ok {
		return nil, nil
	}
	return []domain.ResolutionSnapshot{{Resolution: rec}}, nil
}

type memAudit struct{ events []string }

func (a *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.events = append(a.events, event)
	return nil
}

func (a *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type memBus struct {
	mu       sync.Mutex
	messages map[string][][]byte
	streams  map[string][][]byte
}

func (b *memBus) Publish(_ context.Context, ch string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.messages == nil {
		b.messages = make(map[string][][]byte)
	}
	b.messages[ch] = append(b.messages[ch], payload)
	return nil
}
func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }

func (b *memBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.streams == nil {
		b.streams = make(map[string][][]byte)
	}
	b.streams[stream] = append(b.streams[stream], payload)
	return nil
}

func (b *memBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type memAlerts struct {
	events []string
	err    error
}

func (a *memAlerts) Notify(_ context.Context, event, _, _ string) error {
	a.events = append(a.events, event)
	return a.err
}

type fakeResolver struct {
	requests []airesolver.ResolutionRequest
	result   airesolver.Result
	status   airesolver.Status
	err      error
}

func (f *fakeResolver) RequestResolution(_ context.Context, req airesolver.ResolutionRequest) (airesolver.Status, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return airesolver.Status{}, f.err
	}
	return airesolver.Status{RequestID: "req-1", MarketID: req.MarketID, Status: airesolver.StatePending}, nil
}

func (f *fakeResolver) Status(context.Context, string) (airesolver.Status, error) {
	return f.status, f.err
}

func (f *fakeResolver) Result(context.Context, string) (airesolver.Result, error) {
	return f.result, f.err
}

func (f *fakeResolver) History(context.Context, uint64) ([]airesolver.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []airesolver.Result{f.result}, nil
}

type fakeMetadata map[string]domain.MarketMetadata

func (f fakeMetadata) Fetch(_ context.Context, ref string) (domain.MarketMetadata, error) {
	md, ok := f[ref]
	if !ok {
		return domain.MarketMetadata{}, domain.ErrMetadataUnavailable
	}
	return md, nil
}
