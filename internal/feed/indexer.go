// Package feed follows contract activity on the Midnight indexer.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait         = 10 * time.Second
	ackWait           = 15 * time.Second
	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second

	subprotocol    = "graphql-transport-ws"
	subscriptionID = "contract-actions"
)

const contractActionsQuery = `subscription ContractActions($address: HexEncoded!) {
  contractActions(address: $address) {
    __typename
    transaction { hash block { height } }
  }
}`

// errSubscriptionEnded is returned when the indexer completes the stream.
var errSubscriptionEnded = errors.New("feed: indexer ended the subscription")

// ContractAction is one deploy, call or update of the watched contract.
type ContractAction struct {
	Kind   string
	TxHash string
	Height int64
}

// ActionHandler is called for each contract action, in order.
type ActionHandler func(ctx context.Context, action ContractAction)

// IndexerFeed subscribes to contract actions for one address over the
// graphql-transport-ws protocol and reconnects with backoff on disconnect.
type IndexerFeed struct {
	wsURL    string
	address  string
	onAction ActionHandler
	logger   *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewIndexerFeed creates a feed for address.
func NewIndexerFeed(wsURL, address string, onAction ActionHandler, logger *slog.Logger) *IndexerFeed {
	return &IndexerFeed{
		wsURL:    wsURL,
		address:  address,
		onAction: onAction,
		logger:   logger.With(slog.String("component", "indexer_feed")),
		done:     make(chan struct{}),
	}
}

// Run connects, subscribes and dispatches actions until ctx is cancelled or
// Close is called.
func (f *IndexerFeed) Run(ctx context.Context) error {
	delay := reconnectDelay
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		received, err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if received {
			delay = reconnectDelay
		}
		f.logger.Warn("indexer subscription lost, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("backoff", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(delay):
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

// Close stops the feed.
func (f *IndexerFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

type gqlMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type actionPayload struct {
	Data struct {
		ContractActions struct {
			Typename    string `json:"__typename"`
			Transaction struct {
				Hash  string `json:"hash"`
				Block struct {
					Height int64 `json:"height"`
				} `json:"block"`
			} `json:"transaction"`
		} `json:"contractActions"`
	} `json:"data"`
}

// runConnection reports whether any action arrived, so a healthy connection
// resets the backoff.
func (f *IndexerFeed) runConnection(ctx context.Context) (bool, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
		Subprotocols:     []string{subprotocol},
	}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return false, fmt.Errorf("feed: connect: %w", err)
	}
	defer conn.Close()

	// Unblock the read when ctx ends or the feed is closed.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-f.done:
			conn.Close()
		case <-finished:
		}
	}()

	if err := send(conn, gqlMessage{Type: "connection_init"}); err != nil {
		return false, err
	}
	conn.SetReadDeadline(time.Now().Add(ackWait))
	var ack gqlMessage
	if err := conn.ReadJSON(&ack); err != nil {
		return false, fmt.Errorf("feed: awaiting ack: %w", err)
	}
	if ack.Type != "connection_ack" {
		return false, fmt.Errorf("feed: expected connection_ack, got %q", ack.Type)
	}
	conn.SetReadDeadline(time.Time{})

	sub, err := json.Marshal(map[string]any{
		"query":     contractActionsQuery,
		"variables": map[string]string{"address": f.address},
	})
	if err != nil {
		return false, fmt.Errorf("feed: marshal subscription: %w", err)
	}
	if err := send(conn, gqlMessage{ID: subscriptionID, Type: "subscribe", Payload: sub}); err != nil {
		return false, err
	}
	f.logger.Info("indexer subscribed", slog.String("address", f.address))

	received := false
	for {
		var msg gqlMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return received, fmt.Errorf("feed: read: %w", err)
		}
		switch msg.Type {
		case "next":
			var p actionPayload
			if err := json.Unmarshal(msg.Payload, &p); err != nil {
				f.logger.Warn("undecodable contract action", slog.String("error", err.Error()))
				continue
			}
			received = true
			ca := p.Data.ContractActions
			if f.onAction != nil {
				f.onAction(ctx, ContractAction{
					Kind:   ca.Typename,
					TxHash: ca.Transaction.Hash,
					Height: ca.Transaction.Block.Height,
				})
			}
		case "ping":
			if err := send(conn, gqlMessage{Type: "pong"}); err != nil {
				return received, err
			}
		case "error":
			return received, fmt.Errorf("feed: subscription error: %s", msg.Payload)
		case "complete":
			return received, errSubscriptionEnded
		}
	}
}

func send(conn *websocket.Conn, msg gqlMessage) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("feed: send %s: %w", msg.Type, err)
	}
	return nil
}
