package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/facilitator/internal/core/domain"
	"github.com/vietddude/facilitator/internal/indexing/pipeline"
)

var gateway = common.HexToAddress("0x00000000000000000000000000000000000000AB")

func TestFetch(t *testing.T) {
	queries := make(chan graphRequest, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var q graphRequest
		if r.Method != http.MethodPost || json.NewDecoder(r.Body).Decode(&q) != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		queries <- q
		fmt.Fprint(w, `{"data":{"records":[
			{"id":"a","contractAddress":"0x00000000000000000000000000000000000000ab","blockNumber":"12","uts":"1700","_messageHash":"0x01","_stakerNonce":"3","_unlockSecret":null},
			{"id":"b","contractAddress":"0x00000000000000000000000000000000000000ab","blockNumber":13,"uts":"1701","_messageHash":"0x02","_stakerNonce":"4"}
		]}}`)
	}))
	defer srv.Close()

	c := NewClient(Config{Side: domain.ChainSideOrigin, URL: srv.URL})
	records, err := c.Fetch(context.Background(), pipeline.FetchRequest{
		Contract:   gateway,
		EntityType: domain.EntityStakeProgressed,
		Since:      1699,
		Skip:       100,
		Limit:      50,
	})
	require.NoError(t, err)
	require.Len(t, records, 2)

	got := <-queries
	require.Contains(t, got.Query, "records: stakeProgresseds(")
	require.Contains(t, got.Query, "uts_gt: $since")
	require.Contains(t, got.Query, "_unlockSecret")
	require.Equal(t, "0x00000000000000000000000000000000000000ab", got.Variables["contract"])
	require.Equal(t, "1699", got.Variables["since"])
	require.EqualValues(t, 100, got.Variables["skip"])
	require.EqualValues(t, 50, got.Variables["first"])

	uts, err := records[0].UTS()
	require.NoError(t, err)
	require.Equal(t, uint64(1700), uts)
	require.False(t, records[0].Has("_unlockSecret"))

	block, err := records[1].BlockNumber()
	require.NoError(t, err)
	require.Equal(t, uint64(13), block.Uint64())
	contract, err := records[1].ContractAddress()
	require.NoError(t, err)
	require.Equal(t, gateway, contract)
}

func TestFetchErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantErr   error
		transient bool
	}{
		{name: "graphql errors", status: 200, body: `{"errors":[{"message":"bad field"}]}`, wantErr: ErrQuery},
		{name: "no records", status: 200, body: `{"data":{}}`, wantErr: ErrQuery},
		{name: "not json", status: 200, body: `<html>`, wantErr: ErrQuery},
		{name: "throttled", status: 429, body: `slow down`, transient: true},
		{name: "unavailable", status: 503, body: `down`, transient: true},
		{name: "bad request", status: 400, body: `nope`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			c := NewClient(Config{Side: domain.ChainSideAuxiliary, URL: srv.URL})
			_, err := c.Fetch(context.Background(), pipeline.FetchRequest{
				Contract: gateway, EntityType: domain.EntityRedeemRequested, Limit: 10,
			})
			require.Error(t, err)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			}
			require.Equal(t, tt.transient, IsTransient(err))
		})
	}
}

func TestFetchUnknownEntity(t *testing.T) {
	c := NewClient(Config{URL: "http://unused"})
	_, err := c.Fetch(context.Background(), pipeline.FetchRequest{EntityType: "transfers"})
	require.ErrorIs(t, err, ErrUnknownEntity)
}

func TestFieldsOverride(t *testing.T) {
	c := NewClient(Config{Fields: map[domain.EntityType][]string{
		domain.EntityStakeProgressed: {"_messageHash"},
	}})
	q, err := c.query(domain.EntityStakeProgressed)
	require.NoError(t, err)
	require.Contains(t, q, "{ id contractAddress blockNumber uts _messageHash }")
}

func TestDefaultFieldsCoverEveryEntityType(t *testing.T) {
	for _, side := range []domain.ChainSide{domain.ChainSideOrigin, domain.ChainSideAuxiliary} {
		for _, et := range domain.EntityTypes(side) {
			require.Contains(t, DefaultFields, et)
		}
	}
}

func TestSubscribeDisabled(t *testing.T) {
	c := NewClient(Config{URL: "http://unused"})
	signals, err := c.Subscribe(context.Background(), domain.ChainSideOrigin, []pipeline.Subscription{{Contract: gateway}})
	require.NoError(t, err)
	require.Nil(t, signals)
}

func TestSubscribe(t *testing.T) {
	upgrader := websocket.Upgrader{Subprotocols: []string{"graphql-ws"}}
	starts := make(chan string, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var msg wsMessage
		if conn.ReadJSON(&msg) != nil || msg.Type != msgConnectionInit {
			return
		}
		conn.WriteJSON(wsMessage{Type: msgKeepAlive})
		conn.WriteJSON(wsMessage{Type: msgConnectionAck})

		for range 2 {
			var start struct {
				ID      string       `json:"id"`
				Type    string       `json:"type"`
				Payload graphRequest `json:"payload"`
			}
			if conn.ReadJSON(&start) != nil {
				return
			}
			starts <- start.Payload.Query
		}
		conn.WriteJSON(wsMessage{ID: "2", Type: msgData, Payload: map[string]any{"data": map[string]any{}}})
		conn.WriteJSON(wsMessage{ID: "1", Type: msgComplete})
		conn.WriteJSON(wsMessage{ID: "2", Type: msgComplete})

		// Wait for the client to hang up.
		conn.SetReadDeadline(time.Now().Add(time.Second))
		for conn.ReadJSON(&msg) == nil {
		}
	}))
	defer srv.Close()

	c := NewClient(Config{
		Side:            domain.ChainSideOrigin,
		SubscriptionURL: "ws" + strings.TrimPrefix(srv.URL, "http"),
	})
	signals, err := c.Subscribe(context.Background(), domain.ChainSideOrigin, []pipeline.Subscription{
		{Contract: gateway, EntityType: domain.EntityStakeRequested},
		{Contract: gateway, EntityType: domain.EntityStakeProgressed},
	})
	require.NoError(t, err)

	require.Contains(t, <-starts, "stakeRequesteds(")
	require.Contains(t, <-starts, "stakeProgresseds(")

	select {
	case sig := <-signals:
		require.Equal(t, pipeline.Signal{Side: domain.ChainSideOrigin, EntityType: domain.EntityStakeProgressed}, sig)
	case <-time.After(time.Second):
		t.Fatal("no signal")
	}

	// Every stream completed: the channel closes.
	select {
	case _, ok := <-signals:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
}

func TestSubscribeRejectedHandshake(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var msg wsMessage
		conn.ReadJSON(&msg)
		conn.WriteJSON(wsMessage{Type: msgConnectionError, Payload: "unauthorized"})
	}))
	defer srv.Close()

	c := NewClient(Config{SubscriptionURL: "ws" + strings.TrimPrefix(srv.URL, "http")})
	_, err := c.Subscribe(context.Background(), domain.ChainSideOrigin, []pipeline.Subscription{{Contract: gateway}})
	require.Error(t, err)
	require.False(t, errors.Is(err, context.Canceled))
}

func TestFetchFailsOver(t *testing.T) {
	var downHits, upHits atomic.Int32
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		downHits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer down.Close()
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upHits.Add(1)
		fmt.Fprint(w, `{"data":{"records":[]}}`)
	}))
	defer up.Close()

	c := NewClient(Config{URL: down.URL, FallbackURLs: []string{up.URL}})
	req := pipeline.FetchRequest{Contract: gateway, EntityType: domain.EntityStakeRequested, Limit: 10}

	_, err := c.Fetch(context.Background(), req)
	require.NoError(t, err)
	_, err = c.Fetch(context.Background(), req)
	require.NoError(t, err)

	// The healthy endpoint is kept once selected.
	require.EqualValues(t, 1, downHits.Load())
	require.EqualValues(t, 2, upHits.Load())
}

func TestFetchDoesNotFailOverOnBadRequest(t *testing.T) {
	var hits atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})
	a := httptest.NewServer(handler)
	defer a.Close()
	b := httptest.NewServer(handler)
	defer b.Close()

	c := NewClient(Config{URL: a.URL, FallbackURLs: []string{b.URL}})
	_, err := c.Fetch(context.Background(), pipeline.FetchRequest{
		Contract: gateway, EntityType: domain.EntityStakeRequested, Limit: 10,
	})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusBadRequest, se.Code)
	require.EqualValues(t, 1, hits.Load())
}

func TestFetchNoEndpoint(t *testing.T) {
	c := NewClient(Config{})
	_, err := c.Fetch(context.Background(), pipeline.FetchRequest{EntityType: domain.EntityStakeRequested})
	require.ErrorIs(t, err, ErrNoEndpoint)
}
