package feed

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
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// fakeIndexer speaks enough graphql-transport-ws to serve one subscription.
func fakeIndexer(t *testing.T, actions []string, gotAddress chan<- string, gotPong chan<- bool) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{Subprotocols: []string{subprotocol}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var init gqlMessage
		if conn.ReadJSON(&init) != nil || init.Type != "connection_init" {
			return
		}
		_ = conn.WriteJSON(gqlMessage{Type: "connection_ack"})

		var sub gqlMessage
		if conn.ReadJSON(&sub) != nil || sub.Type != "subscribe" {
			return
		}
		var payload struct {
			Query     string            `json:"query"`
			Variables map[string]string `json:"variables"`
		}
		_ = json.Unmarshal(sub.Payload, &payload)
		gotAddress <- payload.Variables["address"]

		_ = conn.WriteJSON(gqlMessage{Type: "ping"})
		var pong gqlMessage
		if conn.ReadJSON(&pong) == nil {
			gotPong <- pong.Type == "pong"
		}

		for _, a := range actions {
			_ = conn.WriteJSON(gqlMessage{ID: sub.ID, Type: "next", Payload: json.RawMessage(a)})
		}
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestIndexerFeedDispatchesActions(t *testing.T) {
	gotAddress := make(chan string, 1)
	gotPong := make(chan bool, 1)
	srv := fakeIndexer(t, []string{
		`{"data":{"contractActions":{"__typename":"ContractCall","transaction":{"hash":"aa01","block":{"height":41}}}}}`,
		`{"data":{"contractActions":{"__typename":"ContractUpdate","transaction":{"hash":"aa02","block":{"height":42}}}}}`,
	}, gotAddress, gotPong)

	actions := make(chan ContractAction, 4)
	f := NewIndexerFeed(wsURL(srv), "0200cafe", func(_ context.Context, a ContractAction) {
		actions <- a
	}, discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- f.Run(ctx) }()

	select {
	case addr := <-gotAddress:
		assert.Equal(t, "0200cafe", addr)
	case <-time.After(5 * time.Second):
		t.Fatal("no subscription received")
	}
	select {
	case ok := <-gotPong:
		assert.True(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("no pong received")
	}

	var got []ContractAction
	for len(got) < 2 {
		select {
		case a := <-actions:
			got = append(got, a)
		case <-time.After(5 * time.Second):
			t.Fatalf("received %d actions", len(got))
		}
	}
	assert.Equal(t, ContractAction{Kind: "ContractCall", TxHash: "aa01", Height: 41}, got[0])
	assert.Equal(t, ContractAction{Kind: "ContractUpdate", TxHash: "aa02", Height: 42}, got[1])

	cancel()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestIndexerFeedCloseStopsRun(t *testing.T) {
	srv := fakeIndexer(t, nil, make(chan string, 1), make(chan bool, 1))
	f := NewIndexerFeed(wsURL(srv), "0200cafe", nil, discard())

	errc := make(chan error, 1)
	go func() { errc <- f.Run(context.Background()) }()

	time.Sleep(100 * time.Millisecond)
	f.Close()
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Close")
	}
}

func TestIndexerFeedRejectsMissingAck(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var init gqlMessage
		_ = conn.ReadJSON(&init)
		_ = conn.WriteJSON(gqlMessage{Type: "error", Payload: json.RawMessage(`"nope"`)})
	}))
	defer srv.Close()

	f := NewIndexerFeed(wsURL(srv), "0200cafe", nil, discard())
	received, err := f.runConnection(context.Background())
	assert.False(t, received)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection_ack")
}
