package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/exchange/emulator/internal/event"
	"github.com/exchange/emulator/internal/model"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return out
}

func send(t *testing.T, conn *websocket.Conn, req Request) {
	t.Helper()
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestOrderBookChannel(t *testing.T) {
	hub := event.NewHub(nil)
	snapshot := model.BookSnapshot{
		InstrumentID: "SBER",
		Bids:         []model.BookLevel{{Price: 9950, Quantity: 10, APIQuantity: 4}},
		Timestamp:    time.Now(),
	}
	s := NewServer(hub, event.Codec{PriceScale: 2}, Config{
		Snapshot: func() model.BookSnapshot { return snapshot },
	}, nil)
	srv := httptest.NewServer(s)
	defer srv.Close()

	conn := dial(t, srv)
	send(t, conn, Request{Op: "subscribe", Channel: ChannelOrderBook})

	ack := readJSON(t, conn)
	if ack["op"] != "subscribe" || ack["success"] != true {
		t.Fatalf("unexpected ack %v", ack)
	}
	initial := readJSON(t, conn)
	if initial["type"] != string(TypeOrderBookUpdate) || initial["channel"] != ChannelOrderBook {
		t.Fatalf("unexpected snapshot message %v", initial)
	}
	bids := initial["data"].(map[string]any)["bids"].([]any)
	level := bids[0].(map[string]any)
	if level["price"] != "99.50" || level["apiQuantity"].(float64) != 4 {
		t.Fatalf("unexpected level %v", level)
	}

	waitFor(t, func() bool { return hub.Len() == 1 })
	hub.Publish(event.TradeExecuted(model.Trade{ID: 1, Price: 100, Quantity: 1}))
	hub.Publish(event.BookChanged(model.BookSnapshot{InstrumentID: "SBER", Timestamp: time.Now()}))
	next := readJSON(t, conn)
	if next["type"] != string(TypeOrderBookUpdate) || next["seq"].(float64) != 2 {
		t.Fatalf("expected book update with seq 2, got %v", next)
	}

	send(t, conn, Request{Op: "unsubscribe", Channel: ChannelOrderBook})
	if resp := readJSON(t, conn); resp["op"] != "unsubscribe" {
		t.Fatalf("unexpected unsubscribe response %v", resp)
	}
	waitFor(t, func() bool { return hub.Len() == 0 })
}

func TestOrderBookSnapshotPrecedesUpdates(t *testing.T) {
	hub := event.NewHub(nil)
	s := NewServer(hub, event.Codec{PriceScale: 2}, Config{
		Snapshot: func() model.BookSnapshot {
			// 取快照期间发生的变更不应排到快照之前
			hub.Publish(event.BookChanged(model.BookSnapshot{InstrumentID: "SBER", Timestamp: time.Now()}))
			return model.BookSnapshot{InstrumentID: "SBER", Timestamp: time.Now()}
		},
	}, nil)
	srv := httptest.NewServer(s)
	defer srv.Close()

	conn := dial(t, srv)
	send(t, conn, Request{Op: "subscribe", Channel: ChannelOrderBook})
	if ack := readJSON(t, conn); ack["op"] != "subscribe" {
		t.Fatalf("unexpected ack %v", ack)
	}
	if first := readJSON(t, conn); first["seq"].(float64) != 0 {
		t.Fatalf("expected snapshot first, got %v", first)
	}

	waitFor(t, func() bool { return hub.Len() == 1 })
	hub.Publish(event.BookChanged(model.BookSnapshot{InstrumentID: "SBER", Timestamp: time.Now()}))
	if next := readJSON(t, conn); next["seq"].(float64) != 2 {
		t.Fatalf("expected update with seq 2 after snapshot, got %v", next)
	}
}

func TestPrivateOrdersChannelFiltersAccount(t *testing.T) {
	hub := event.NewHub(nil)
	s := NewServer(hub, event.Codec{PriceScale: 2}, Config{}, nil)
	srv := httptest.NewServer(s)
	defer srv.Close()

	conn := dial(t, srv)
	send(t, conn, Request{Op: "subscribe", Channel: "orders.acc-1"})
	readJSON(t, conn)
	waitFor(t, func() bool { return hub.Len() == 1 })

	now := time.Now()
	hub.Publish(event.OrderChanged(model.Order{ID: uuid.New(), AccountID: "acc-2", Status: model.StatusNew}, now))
	mine := model.Order{ID: uuid.New(), AccountID: "acc-1", Status: model.StatusFilled, Price: 10100}
	hub.Publish(event.OrderChanged(mine, now))

	msg := readJSON(t, conn)
	data := msg["data"].(map[string]any)
	if data["orderId"] != mine.ID.String() || data["status"] != "FILLED" || data["price"] != "101.00" {
		t.Fatalf("unexpected order message %v", msg)
	}
}

func TestControlErrors(t *testing.T) {
	hub := event.NewHub(nil)
	s := NewServer(hub, event.Codec{}, Config{MaxSubscriptionsPerConn: 1}, nil)
	srv := httptest.NewServer(s)
	defer srv.Close()

	conn := dial(t, srv)

	tests := []struct {
		req  Request
		want string
	}{
		{Request{Op: "subscribe", Channel: "market.BTC.book"}, "invalid channel"},
		{Request{Op: "subscribe", Channel: "orders."}, "invalid account"},
		{Request{Op: "dance"}, "unknown op"},
	}
	for _, tt := range tests {
		send(t, conn, tt.req)
		if got := readJSON(t, conn); got["error"] != tt.want {
			t.Fatalf("%+v: expected %q, got %v", tt.req, tt.want, got)
		}
	}

	send(t, conn, Request{Op: "ping"})
	if got := readJSON(t, conn); got["op"] != "pong" {
		t.Fatalf("expected pong, got %v", got)
	}

	send(t, conn, Request{Op: "subscribe", Channel: ChannelTrades})
	readJSON(t, conn)
	send(t, conn, Request{Op: "subscribe", Channel: ChannelOrderBook})
	if got := readJSON(t, conn); got["error"] != "too many subscriptions" {
		t.Fatalf("expected subscription limit, got %v", got)
	}
}

func TestDisconnectUnsubscribes(t *testing.T) {
	hub := event.NewHub(nil)
	s := NewServer(hub, event.Codec{}, Config{}, nil)
	srv := httptest.NewServer(s)
	defer srv.Close()

	conn := dial(t, srv)
	send(t, conn, Request{Op: "subscribe", Channel: ChannelTrades})
	readJSON(t, conn)
	waitFor(t, func() bool { return hub.Len() == 1 && s.ClientCount() == 1 })

	_ = conn.Close()
	waitFor(t, func() bool { return hub.Len() == 0 && s.ClientCount() == 0 })
}

func TestSlowClientDropped(t *testing.T) {
	conns := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		conns <- c
	}))
	defer srv.Close()
	dial(t, srv)

	hub := event.NewHub(nil)
	s := NewServer(hub, event.Codec{}, Config{}, nil)
	c := &Client{
		conn:          <-conns,
		server:        s,
		subscriptions: map[string]int64{},
		send:          make(chan []byte, 1),
		closed:        make(chan struct{}),
	}
	hub.Subscribe("ws:trades", event.SubscriberFunc(func(ev event.Event) error {
		return c.deliver(ChannelTrades, ev)
	}))

	hub.Publish(event.TradeExecuted(model.Trade{ID: 1}))
	if hub.Len() != 1 {
		t.Fatal("first event fits the buffer")
	}
	hub.Publish(event.TradeExecuted(model.Trade{ID: 2}))
	if hub.Len() != 0 {
		t.Fatal("slow client should be dropped")
	}
	if err := c.deliver(ChannelTrades, event.TradeExecuted(model.Trade{ID: 3})); !errors.Is(err, errClientClosed) {
		t.Fatalf("expected closed client, got %v", err)
	}
}
