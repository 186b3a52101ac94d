package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/vietddude/facilitator/internal/core/domain"
	"github.com/vietddude/facilitator/internal/indexing/pipeline"
)

// graphql-ws message types.
const (
	msgConnectionInit  = "connection_init"
	msgConnectionAck   = "connection_ack"
	msgConnectionError = "connection_error"
	msgKeepAlive       = "ka"
	msgStart           = "start"
	msgData            = "data"
	msgError           = "error"
	msgComplete        = "complete"
	msgTerminate       = "connection_terminate"
)

const ackTimeout = 10 * time.Second

type wsMessage struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Subscribe opens one graphql-ws connection carrying a live query per
// subscription and emits a Signal whenever the indexer pushes data. The
// channel is closed when the connection ends. It returns a nil channel when
// no subscription endpoint is configured.
func (c *Client) Subscribe(ctx context.Context, side domain.ChainSide, subs []pipeline.Subscription) (<-chan pipeline.Signal, error) {
	if c.cfg.SubscriptionURL == "" || len(subs) == 0 {
		return nil, nil
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		Subprotocols:     []string{"graphql-ws"},
	}
	conn, _, err := dialer.DialContext(ctx, c.cfg.SubscriptionURL, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	if err := handshake(conn); err != nil {
		conn.Close()
		return nil, err
	}

	streams := make(map[string]domain.EntityType, len(subs))
	for i, sub := range subs {
		id := strconv.Itoa(i + 1)
		streams[id] = sub.EntityType
		start := wsMessage{
			ID:   id,
			Type: msgStart,
			Payload: graphRequest{Query: fmt.Sprintf(
				`subscription { records: %s(first: 1, orderBy: uts, orderDirection: desc, where: {contractAddress: "%s"}) { id uts } }`,
				sub.EntityType, strings.ToLower(sub.Contract.Hex()),
			)},
		}
		if err := conn.WriteJSON(start); err != nil {
			conn.Close()
			return nil, fmt.Errorf("start subscription %s: %w", sub.EntityType, err)
		}
	}

	signals := make(chan pipeline.Signal, 1)
	go c.readLoop(ctx, conn, side, streams, signals)

	c.logger.Info("Subscribed to indexer", "streams", len(streams))
	return signals, nil
}

func handshake(conn *websocket.Conn) error {
	if err := conn.WriteJSON(wsMessage{Type: msgConnectionInit}); err != nil {
		return fmt.Errorf("connection init: %w", err)
	}
	conn.SetReadDeadline(time.Now().Add(ackTimeout))
	defer conn.SetReadDeadline(time.Time{})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("await connection ack: %w", err)
		}
		switch t := gjson.GetBytes(data, "type").String(); t {
		case msgConnectionAck:
			return nil
		case msgKeepAlive:
		default:
			return fmt.Errorf("unexpected %q before connection ack", t)
		}
	}
}

func (c *Client) readLoop(
	ctx context.Context,
	conn *websocket.Conn,
	side domain.ChainSide,
	streams map[string]domain.EntityType,
	signals chan<- pipeline.Signal,
) {
	defer close(signals)

	var once sync.Once
	shutdown := func() {
		once.Do(func() {
			msg, _ := json.Marshal(wsMessage{Type: msgTerminate})
			_ = conn.WriteMessage(websocket.TextMessage, msg)
			conn.Close()
		})
	}
	defer shutdown()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			shutdown()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("Subscription read failed", "error", err)
			}
			return
		}

		msg := gjson.ParseBytes(data)
		id := msg.Get("id").String()
		switch msg.Get("type").String() {
		case msgData:
			entity, ok := streams[id]
			if !ok {
				continue
			}
			// One pending signal already triggers a full cycle.
			select {
			case signals <- pipeline.Signal{Side: side, EntityType: entity}:
			default:
			}
		case msgError:
			c.logger.Warn("Subscription error", "stream", streams[id], "payload", msg.Get("payload").Raw)
		case msgComplete:
			delete(streams, id)
			if len(streams) == 0 {
				return
			}
		case msgConnectionError:
			c.logger.Warn("Subscription connection error", "payload", msg.Get("payload").Raw)
			return
		}
	}
}
