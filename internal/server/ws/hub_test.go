package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statera-protocol/statera-protocol-midnight/internal/domain"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func dial(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(ts.Close)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub("simulate", nil, nil, discard())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func TestHubHelloAndBroadcast(t *testing.T) {
	hub := startHub(t)
	conn := dial(t, hub)

	hello := read(t, conn)
	assert.Equal(t, "hello", hello.Type)
	assert.Equal(t, "simulate", hello.Payload.(map[string]any)["mode"])

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	hub.PublishPrice(context.Background(), domain.OraclePrice{Asset: "ADA", Price: 0.44, RoundID: 3})
	env := read(t, conn)
	assert.Equal(t, ChannelPrices, env.Channel)
	assert.Equal(t, "price", env.Type)
	assert.InDelta(t, 0.44, env.Payload.(map[string]any)["price"], 1e-9)
}

func TestHubLiquidationGoesToBothChannels(t *testing.T) {
	hub := startHub(t)
	conn := dial(t, hub)
	read(t, conn) // hello
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	hub.Emit(context.Background(), domain.MonitorEvent{Type: domain.EventLiquidation, PositionID: "p1", Outcome: "succeeded"})

	got := map[string]bool{}
	for range 2 {
		got[read(t, conn).Channel] = true
	}
	assert.True(t, got[ChannelMonitors])
	assert.True(t, got[ChannelLiquidations])
}

func TestSubscriptionMessages(t *testing.T) {
	c := &client{subs: map[string]bool{ChannelPrices: true, ChannelMonitors: true}}

	c.handleSubscription(subscribeMsg{Action: "unsubscribe", Channels: []string{ChannelPrices}})
	assert.False(t, c.isSubscribed(ChannelPrices))
	assert.True(t, c.isSubscribed(ChannelMonitors))

	c.handleSubscription(subscribeMsg{Action: "subscribe", Channels: []string{ChannelLiquidations}})
	assert.True(t, c.isSubscribed(ChannelLiquidations))
}

func TestIsSubscribedWildcard(t *testing.T) {
	c := &client{subs: map[string]bool{"mon*": true}}
	assert.True(t, c.isSubscribed("monitors"))
	assert.False(t, c.isSubscribed("prices"))
}
