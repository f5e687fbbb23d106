// Package ws WebSocket 推送：订单簿、成交与账户订单
package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/exchange/emulator/internal/event"
	"github.com/exchange/emulator/internal/model"
	"github.com/exchange/emulator/pkg/logger"
	"github.com/gorilla/websocket"
)

const (
	ChannelOrderBook    = "orderbook"
	ChannelTrades       = "trades"
	channelOrdersPrefix = "orders."

	// TypeOrderBookUpdate 订单簿频道推送的消息类型
	TypeOrderBookUpdate event.Type = "ORDERBOOK_UPDATE"
)

var (
	errClientClosed = errors.New("client closed")
	errClientSlow   = errors.New("client send buffer full")
)

type Config struct {
	AllowedOrigins          []string
	MaxSubscriptionsPerConn int
	SendBuffer              int
	// Snapshot 订阅订单簿时立即推送的当前快照，可为 nil
	Snapshot func() model.BookSnapshot
}

// Server WebSocket 服务器，每个频道订阅对应事件中心的一个订阅者
type Server struct {
	hub     *event.Hub
	codec   event.Codec
	clients map[*Client]bool
	mu      sync.RWMutex

	upgrader websocket.Upgrader
	cfg      Config
	log      *logger.Logger
}

// Client WebSocket 客户端
type Client struct {
	conn          *websocket.Conn
	server        *Server
	subscriptions map[string]int64
	send          chan []byte
	mu            sync.Mutex
	closed        chan struct{}
	closeOnce     sync.Once
}

func NewServer(hub *event.Hub, codec event.Codec, cfg Config, log *logger.Logger) *Server {
	if cfg.MaxSubscriptionsPerConn <= 0 {
		cfg.MaxSubscriptionsPerConn = 16
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if log == nil {
		log = logger.Nop()
	}
	codec.LevelOrders = false

	s := &Server{
		hub:     hub,
		codec:   codec,
		clients: make(map[*Client]bool),
		cfg:     cfg,
		log:     log,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return allowOrigin(r, s.cfg.AllowedOrigins)
		},
	}
	return s
}

// ServeHTTP 升级为 WebSocket 连接
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := &Client{
		conn:          conn,
		server:        s,
		subscriptions: make(map[string]int64),
		send:          make(chan []byte, s.cfg.SendBuffer),
		closed:        make(chan struct{}),
	}

	s.mu.Lock()
	s.clients[client] = true
	s.mu.Unlock()

	go client.writePump()
	go client.readPump()
}

// Request 客户端请求
type Request struct {
	Op      string `json:"op"`
	Channel string `json:"channel"`
}

// Response 控制消息应答
type Response struct {
	Op      string `json:"op,omitempty"`
	Channel string `json:"channel,omitempty"`
	Success bool   `json:"success,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Message 频道推送
type Message struct {
	Channel string `json:"channel"`
	event.Envelope
}

func (c *Client) readPump() {
	defer c.server.removeClient(c)

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.server.log.WithError(err).Debug("websocket read error")
			}
			return
		}

		var req Request
		if err := json.Unmarshal(message, &req); err != nil {
			c.sendError("invalid request")
			continue
		}
		c.handleRequest(&req)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.closed:
			return
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleRequest(req *Request) {
	switch req.Op {
	case "subscribe":
		c.subscribe(req.Channel)
	case "unsubscribe":
		c.unsubscribe(req.Channel)
	case "ping":
		c.sendResponse(&Response{Op: "pong"})
	default:
		c.sendError("unknown op")
	}
}

func (c *Client) subscribe(channel string) {
	match, err := channelFilter(channel)
	if err != nil {
		c.sendError(err.Error())
		return
	}

	c.mu.Lock()
	if _, exists := c.subscriptions[channel]; exists {
		c.mu.Unlock()
		c.sendResponse(&Response{Op: "subscribe", Channel: channel, Success: true})
		return
	}
	if len(c.subscriptions) >= c.server.cfg.MaxSubscriptionsPerConn {
		c.mu.Unlock()
		c.sendError("too many subscriptions")
		return
	}
	c.sendResponse(&Response{Op: "subscribe", Channel: channel, Success: true})

	// 快照先于订阅入队，之后的增量不会排在快照之前
	if channel == ChannelOrderBook && c.server.cfg.Snapshot != nil {
		_ = c.deliver(channel, event.BookChanged(c.server.cfg.Snapshot()))
	}
	id := c.server.hub.Subscribe("ws:"+channel, event.SubscriberFunc(func(ev event.Event) error {
		if !match(ev) {
			return nil
		}
		return c.deliver(channel, ev)
	}))
	c.subscriptions[channel] = id
	c.mu.Unlock()
}

func (c *Client) unsubscribe(channel string) {
	c.mu.Lock()
	id, exists := c.subscriptions[channel]
	delete(c.subscriptions, channel)
	c.mu.Unlock()

	if exists {
		c.server.hub.Unsubscribe(id)
	}
	c.sendResponse(&Response{Op: "unsubscribe", Channel: channel, Success: true})
}

// deliver 非阻塞入队。缓冲区满时关闭连接，返回错误让事件中心移除该订阅
func (c *Client) deliver(channel string, ev event.Event) error {
	select {
	case <-c.closed:
		return errClientClosed
	default:
	}

	env := c.server.codec.Envelope(ev)
	if channel == ChannelOrderBook {
		env.Type = TypeOrderBookUpdate
	}
	data, err := json.Marshal(Message{Channel: channel, Envelope: env})
	if err != nil {
		return fmt.Errorf("encode %s: %w", ev.Type, err)
	}

	select {
	case c.send <- data:
		return nil
	default:
		c.close()
		return errClientSlow
	}
}

func (c *Client) sendResponse(resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	c.trySend(data)
}

func (c *Client) sendError(msg string) {
	c.sendResponse(&Response{Error: msg})
}

func (c *Client) trySend(data []byte) {
	select {
	case <-c.closed:
		return
	default:
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}

func (s *Server) removeClient(c *Client) {
	c.close()

	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()

	c.mu.Lock()
	ids := make([]int64, 0, len(c.subscriptions))
	for _, id := range c.subscriptions {
		ids = append(ids, id)
	}
	c.subscriptions = map[string]int64{}
	c.mu.Unlock()

	for _, id := range ids {
		s.hub.Unsubscribe(id)
	}
}

// ClientCount 客户端数量
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// CloseAll 关闭全部连接
func (s *Server) CloseAll() {
	s.mu.RLock()
	clients := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	for _, c := range clients {
		c.close()
	}
}

func allowOrigin(r *http.Request, allowed []string) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		// 非浏览器客户端通常不带 Origin
		return true
	}
	for _, o := range allowed {
		o = strings.TrimSpace(o)
		if o == "*" || (o != "" && o == origin) {
			return true
		}
	}
	return false
}

// channelFilter 解析频道名，返回该频道关心的事件
func channelFilter(channel string) (func(event.Event) bool, error) {
	switch {
	case channel == ChannelOrderBook:
		return func(ev event.Event) bool { return ev.Type == event.TypeBookChanged }, nil
	case channel == ChannelTrades:
		return func(ev event.Event) bool { return ev.Type == event.TypeTradeExecuted }, nil
	case strings.HasPrefix(channel, channelOrdersPrefix):
		accountID := strings.TrimPrefix(channel, channelOrdersPrefix)
		if accountID == "" || len(accountID) > 128 {
			return nil, fmt.Errorf("invalid account")
		}
		return func(ev event.Event) bool {
			o, ok := ev.Data.(model.Order)
			return ok && ev.Type == event.TypeOrderChanged && o.AccountID == accountID
		}, nil
	default:
		return nil, fmt.Errorf("invalid channel")
	}
}
