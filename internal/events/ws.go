package events

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	queueSize  = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Broadcaster streams hub events to WebSocket clients as JSON
type Broadcaster struct {
	hub     *Hub
	log     logrus.FieldLogger
	wg      sync.WaitGroup
	mu      sync.Mutex
	clients map[*client]struct{}
	dropped int64
}

type client struct {
	conn  *websocket.Conn
	queue chan Event
	done  chan struct{}
	once  sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func NewBroadcaster(hub *Hub, log logrus.FieldLogger) *Broadcaster {
	return &Broadcaster{
		hub:     hub,
		log:     log,
		clients: make(map[*client]struct{}),
	}
}

func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	c := &client{
		conn:  conn,
		queue: make(chan Event, queueSize),
		done:  make(chan struct{}),
	}
	if last, ok := b.hub.LastRatio(); ok {
		c.queue <- last
	}

	unsubscribe := b.hub.Subscribe(func(e Event) {
		select {
		case c.queue <- e:
		default:
			b.mu.Lock()
			b.dropped++
			b.mu.Unlock()
		}
	})

	b.mu.Lock()
	b.clients[c] = struct{}{}
	b.mu.Unlock()

	log := b.log.WithField("remote", conn.RemoteAddr().String())
	log.Info("Event client connected")

	b.wg.Add(2)
	go func() {
		defer b.wg.Done()
		b.writeLoop(c, log)
	}()
	go func() {
		defer b.wg.Done()
		defer func() {
			unsubscribe()
			c.close()
			b.mu.Lock()
			delete(b.clients, c)
			b.mu.Unlock()
			log.Info("Event client disconnected")
		}()
		b.readLoop(c)
	}()
}

// readLoop discards client messages and detects disconnects
func (b *Broadcaster) readLoop(c *client) {
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (b *Broadcaster) writeLoop(c *client, log logrus.FieldLogger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.close()

	for {
		select {
		case <-c.done:
			return
		case e := <-c.queue:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(e); err != nil {
				log.WithError(err).Debug("Event write failed")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Clients returns the number of connected clients
func (b *Broadcaster) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Dropped returns how many events were discarded for slow clients
func (b *Broadcaster) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Close disconnects all clients and waits for their goroutines
func (b *Broadcaster) Close() {
	b.mu.Lock()
	for c := range b.clients {
		c.close()
	}
	b.mu.Unlock()
	b.wg.Wait()
}
