package relay

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"lanshare/logging"
	"lanshare/models"
	"lanshare/network"
)

const (
	defaultSendBuffer       = 256
	defaultHandshakeTimeout = 10 * time.Second
)

// Options configures a Hub.
type Options struct {
	Logger           *logrus.Logger
	SendBuffer       int
	MaxFrameSize     int64
	HandshakeTimeout time.Duration
}

type routed struct {
	from     *client
	envelope network.Envelope
}

// Hub tracks connected clients and routes envelopes between them.
type Hub struct {
	log      *logrus.Entry
	upgrader websocket.Upgrader
	options  Options

	register   chan *client
	unregister chan *client
	inbound    chan routed

	// loop-owned
	clients map[string]*client
	order   []string

	peersMu sync.RWMutex
	peers   []models.PeerInfo

	done chan struct{}
}

// NewHub returns a hub; call Run before serving connections.
func NewHub(options Options) *Hub {
	if options.SendBuffer <= 0 {
		options.SendBuffer = defaultSendBuffer
	}
	if options.MaxFrameSize <= 0 {
		options.MaxFrameSize = network.MaxFrameSize
	}
	if options.HandshakeTimeout <= 0 {
		options.HandshakeTimeout = defaultHandshakeTimeout
	}

	return &Hub{
		log: logging.OrDefault(options.Logger).WithField("component", "relay"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 32 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		options:    options,
		register:   make(chan *client),
		unregister: make(chan *client),
		inbound:    make(chan routed),
		clients:    make(map[string]*client),
		done:       make(chan struct{}),
	}
}

// Run processes registrations and routing until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		for _, c := range h.clients {
			close(c.send)
		}
		h.clients = map[string]*client{}
		h.order = nil
		h.publishPeers()
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.add(c)
		case c := <-h.unregister:
			h.remove(c)
		case msg := <-h.inbound:
			h.route(msg)
		}
	}
}

// Peers returns the connected peers in join order.
func (h *Hub) Peers() []models.PeerInfo {
	h.peersMu.RLock()
	defer h.peersMu.RUnlock()
	return append([]models.PeerInfo(nil), h.peers...)
}

// ServeHTTP upgrades the request, reads the handshake and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(h.options.MaxFrameSize)

	_ = conn.SetReadDeadline(time.Now().Add(h.options.HandshakeTimeout))
	_, first, err := conn.ReadMessage()
	if err != nil {
		h.log.WithError(err).Debug("handshake read failed")
		_ = conn.Close()
		return
	}
	handshake, err := network.DecodeHandshake(first)
	if err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "invalid handshake"))
		_ = conn.Close()
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	agent := ParseUserAgent(r.UserAgent())
	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, h.options.SendBuffer),
		info: models.PeerInfo{
			ID:          handshake.ClientID,
			DisplayName: handshake.DisplayName,
			IP:          remoteIP(r),
			OS:          agent.OS,
			Browser:     agent.Browser,
			Device:      agent.Device,
			DeviceType:  agent.DeviceType,
		},
	}

	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (h *Hub) add(c *client) {
	if previous, ok := h.clients[c.info.ID]; ok {
		// same client id reconnecting: the old socket goes away without a peer-left
		close(previous.send)
		h.order = removeID(h.order, c.info.ID)
	}
	h.clients[c.info.ID] = c
	h.order = append(h.order, c.info.ID)
	h.publishPeers()

	h.log.WithFields(logrus.Fields{"peer": c.info.ID, "name": c.info.DisplayName, "ip": c.info.IP}).Info("client joined")

	h.sendAll(network.PeersFrame{Type: network.TypePeers, Peers: h.Peers()}, nil)
	h.sendAll(network.PeerJoinedFrame{Type: network.TypePeerJoined, Peer: c.info}, c)
}

func (h *Hub) remove(c *client) {
	current, ok := h.clients[c.info.ID]
	if !ok || current != c {
		return
	}
	h.drop(c)
}

func (h *Hub) drop(c *client) {
	delete(h.clients, c.info.ID)
	h.order = removeID(h.order, c.info.ID)
	close(c.send)
	h.publishPeers()

	h.log.WithField("peer", c.info.ID).Info("client left")
	h.sendAll(network.PeerLeftFrame{Type: network.TypePeerLeft, PeerID: c.info.ID}, nil)
}

func (h *Hub) route(msg routed) {
	current, ok := h.clients[msg.from.info.ID]
	if !ok || current != msg.from {
		return
	}

	frame := network.MessageFrame{
		Type:     msg.envelope.Type,
		Message:  msg.envelope.Content,
		From:     msg.from.info,
		DataType: msg.envelope.DataType,
	}

	switch msg.envelope.Type {
	case network.TypeUnicast:
		target, ok := h.clients[msg.envelope.To]
		if !ok {
			h.log.WithFields(logrus.Fields{"from": msg.from.info.ID, "to": msg.envelope.To}).Debug("unicast to unknown peer dropped")
			return
		}
		h.sendTo(target, frame)
	default:
		h.sendAll(frame, msg.from)
	}
}

func (h *Hub) sendAll(frame any, except *client) {
	payload, err := json.Marshal(frame)
	if err != nil {
		h.log.WithError(err).Error("marshal relay frame")
		return
	}
	for _, id := range append([]string(nil), h.order...) {
		c, ok := h.clients[id]
		if !ok || c == except {
			continue
		}
		h.deliver(c, payload)
	}
}

func (h *Hub) sendTo(c *client, frame any) {
	payload, err := json.Marshal(frame)
	if err != nil {
		h.log.WithError(err).Error("marshal relay frame")
		return
	}
	h.deliver(c, payload)
}

func (h *Hub) deliver(c *client, payload []byte) {
	select {
	case c.send <- payload:
	default:
		h.log.WithField("peer", c.info.ID).Warn("dropping client due to full send channel")
		h.drop(c)
	}
}

func (h *Hub) publishPeers() {
	peers := make([]models.PeerInfo, 0, len(h.order))
	for _, id := range h.order {
		if c, ok := h.clients[id]; ok {
			peers = append(peers, c.info)
		}
	}
	h.peersMu.Lock()
	h.peers = peers
	h.peersMu.Unlock()
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}

func remoteIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
