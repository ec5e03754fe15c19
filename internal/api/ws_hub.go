package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/creatureboring/accounting-engine/internal/metrics"
	"github.com/creatureboring/accounting-engine/internal/model"
)

// WebSocket message types.
const (
	MsgPositionUpdated = "position_updated"
	MsgRewardUpdated   = "reward_updated"
)

// WSMessage is a JSON message sent to WebSocket clients.
type WSMessage struct {
	Type        string `json:"type"`
	Account     string `json:"account"`
	AssetID     string `json:"asset_id,omitempty"`
	Balance     string `json:"balance,omitempty"`
	TotalCost   string `json:"total_cost,omitempty"`
	TotalSales  string `json:"total_sales,omitempty"`
	LastPrice   string `json:"last_price,omitempty"`
	Points      string `json:"points,omitempty"`
	Rate        string `json:"rate_per_second,omitempty"`
	BonusTier   int    `json:"bonus_tier"`
	ActiveUnits int    `json:"active_units"`
	Timestamp   int64  `json:"timestamp,omitempty"`
}

// WSHub manages WebSocket connections and broadcasts ledger updates to all
// connected clients. It implements indexer.Notifier.
type WSHub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

// Run starts the hub's main event loop. Must be called in a goroutine.
func (h *WSHub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))
			slog.Info("ws client connected", "total", total)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))

		case msg := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					conn.Close()
					delete(h.clients, conn)
				}
			}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))
		}
	}
}

// Broadcast sends a message to all connected clients.
func (h *WSHub) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
		// Drop if buffer full to avoid blocking event processing.
	}
}

// PositionUpdated publishes a committed position.
func (h *WSHub) PositionUpdated(p model.Position) {
	h.Broadcast(WSMessage{
		Type:       MsgPositionUpdated,
		Account:    p.Account,
		AssetID:    p.AssetID,
		Balance:    p.Balance.String(),
		TotalCost:  p.TotalCost.String(),
		TotalSales: p.TotalSales.String(),
		LastPrice:  p.LastPrice.String(),
	})
}

// RewardUpdated publishes a committed reward state.
func (h *WSHub) RewardUpdated(r model.RewardState) {
	h.Broadcast(WSMessage{
		Type:        MsgRewardUpdated,
		Account:     r.AccountID,
		Points:      r.PointsAtLastUpdate.String(),
		Rate:        r.CurrentRatePerSecond.String(),
		BonusTier:   r.BonusTier,
		ActiveUnits: r.ActiveUnitCount,
		Timestamp:   r.LastUpdateTimestamp,
	})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins during development.
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	h.register <- conn

	// Read pump: keep connection alive and detect disconnects.
	go func() {
		defer func() { h.unregister <- conn }()
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()

	// Ping ticker to keep connection alive through proxies.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			h.mu.RLock()
			_, ok := h.clients[conn]
			h.mu.RUnlock()
			if !ok {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}()
}
