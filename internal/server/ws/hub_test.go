package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alanyoungcy/marketmirror/internal/domain"
)

type memBus struct {
	mu      sync.Mutex
	subs    map[string][]chan []byte
	streams map[string][][]byte
}

func newMemBus() *memBus {
	return &memBus{subs: make(map[string][]chan []byte), streams: make(map[string][][]byte)}
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[channel] {
		ch <- payload
	}
	return nil
}

func (b *memBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan []byte, 16)
	b.subs[channel] = append(b.subs[channel], ch)
	return ch, nil
}

func (b *memBus) subscribed(channel string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[channel]) > 0
}

func (b *memBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streams[stream] = append(b.streams[stream], payload)
	return nil
}

// StreamRead numbers entries "1-0", "2-0", ... in append order.
func (b *memBus) StreamRead(_ context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	seq, _, _ := strings.Cut(lastID, "-")
	after, err := strconv.Atoi(seq)
	if err != nil {
		return nil, err
	}
	var out []domain.StreamMessage
	for i := after; i < len(b.streams[stream]) && len(out) < count; i++ {
		out = append(out, domain.StreamMessage{ID: fmt.Sprintf("%d-0", i+1), Payload: b.streams[stream][i]})
	}
	return out, nil
}

func startHub(t *testing.T) (*Hub, *memBus, *httptest.Server) {
	t.Helper()
	bus := newMemBus()
	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{Mode: "Server"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()
	require.Eventually(t, func() bool {
		return bus.subscribed(domain.ChannelTrades) && bus.subscribed(domain.ChannelResolutions)
	}, time.Second, 5*time.Millisecond)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return hub, bus, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return conn
}

func readStruct(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, kind)
	var st structpb.Struct
	require.NoError(t, proto.Unmarshal(data, &st))
	return st.AsMap()
}

func TestHub_BinaryFrames(t *testing.T) {
	hub, bus, srv := startHub(t)
	conn := dial(t, srv, "")

	status := readStruct(t, conn)
	assert.Equal(t, "status", status["channel"])
	payload := status["payload"].(map[string]any)
	assert.Equal(t, "server", payload["mode"])
	assert.ElementsMatch(t, []any{"trades", "resolutions"}, payload["channels"])

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, bus.Publish(context.Background(), domain.ChannelTrades, []byte(`{"market_id":7,"tx_hash":"0xabc"}`)))

	ev := readStruct(t, conn)
	assert.Equal(t, "trades", ev["channel"])
	assert.Equal(t, map[string]any{"market_id": float64(7), "tx_hash": "0xabc"}, ev["payload"])
}

func TestHub_JSONFrames(t *testing.T) {
	hub, bus, srv := startHub(t)
	conn := dial(t, srv, "?format=json")

	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	assert.Contains(t, string(data), `"channel":"status"`)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, bus.Publish(context.Background(), domain.ChannelResolutions, []byte(`{"market_id":3,"action":"propose"}`)))

	_, data, err = conn.ReadMessage()
	require.NoError(t, err)
	var got struct {
		Channel string         `json:"channel"`
		Payload map[string]any `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "resolutions", got.Channel)
	assert.Equal(t, "propose", got.Payload["action"])
}

func TestHub_ReplaysStreamSince(t *testing.T) {
	_, bus, srv := startHub(t)
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		require.NoError(t, bus.StreamAppend(ctx, domain.ChannelTrades, []byte(fmt.Sprintf(`{"market_id":%d}`, i))))
	}
	require.NoError(t, bus.StreamAppend(ctx, domain.ChannelTrades, []byte("not json")))

	conn := dial(t, srv, "?format=json&since=1-0")

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"channel":"status"`)

	var got []string
	for i := 0; i < 2; i++ {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var f struct {
			Channel string         `json:"channel"`
			ID      string         `json:"id"`
			Payload map[string]any `json:"payload"`
		}
		require.NoError(t, json.Unmarshal(data, &f))
		assert.Equal(t, "trades", f.Channel)
		got = append(got, fmt.Sprintf("%s:%v", f.ID, f.Payload["market_id"]))
	}
	assert.Equal(t, []string{"2-0:2", "3-0:3"}, got)
}

func TestHub_NoReplayWithoutSince(t *testing.T) {
	hub, bus, srv := startHub(t)
	require.NoError(t, bus.StreamAppend(context.Background(), domain.ChannelTrades, []byte(`{"market_id":1}`)))

	conn := dial(t, srv, "?format=json")
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"channel":"status"`)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, bus.Publish(context.Background(), domain.ChannelTrades, []byte(`{"market_id":9}`)))
	_, data, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"market_id":9`)
	assert.NotContains(t, string(data), `"id"`)
}

func TestHub_ConnectAfterStopDoesNotPanic(t *testing.T) {
	bus := newMemBus()
	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{Mode: "server"})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()
	require.Eventually(t, func() bool { return bus.subscribed(domain.ChannelTrades) }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()
	conn := dial(t, srv, "?since=0")
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "connection is closed once the hub has stopped")
	assert.Zero(t, hub.ClientCount())
}

func TestNewHub_ReplayLimitFitsSendBuffer(t *testing.T) {
	hub := NewHub(newMemBus(), slog.New(slog.NewTextHandler(io.Discard, nil)), Config{ReplayLimit: 10_000})
	assert.LessOrEqual(t, hub.replay*len(hub.channels)+1, sendBufferSize)
	assert.Equal(t, defaultReplayLimit, NewHub(newMemBus(), slog.New(slog.NewTextHandler(io.Discard, nil)), Config{}).replay)
}

func TestHub_DropsUndecodablePayload(t *testing.T) {
	_, err := encodeFrame("trades", []byte("not json"))
	assert.Error(t, err)
}

func TestClient_IsSubscribed(t *testing.T) {
	c := &client{subs: map[string]bool{"trades": true, "resol*": true}}
	assert.True(t, c.isSubscribed("trades"))
	assert.True(t, c.isSubscribed("resolutions"))
	assert.False(t, c.isSubscribed("status"))

	c.handleSubscription(subscribeMsg{Action: "unsubscribe", Channels: []string{"trades"}})
	assert.False(t, c.isSubscribed("trades"))
	c.handleSubscription(subscribeMsg{Action: "subscribe", Channels: []string{"status"}})
	assert.True(t, c.isSubscribed("status"))
}
