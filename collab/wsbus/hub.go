package wsbus

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/riffline/riffline/collab"
)

// Hub relays envelopes between the clients of a project. Each project is a
// room; an envelope from one connection is sent to all the other connections
// of the room and dropped for those that cannot keep up.
type Hub struct {
	settings *Settings
	upgrader websocket.Upgrader

	mu    sync.Mutex
	rooms map[string]map[*conn]struct{}
}

type conn struct {
	id   string
	ws   *websocket.Conn
	send chan []byte
}

func NewHub(settings *Settings) *Hub {
	if settings == nil {
		settings = DefaultSettings()
	}
	return &Hub{
		settings: settings,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		rooms: map[string]map[*conn]struct{}{},
	}
}

// Rooms returns the number of connections per project.
func (h *Hub) Rooms() map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()
	ret := make(map[string]int, len(h.rooms))
	for project, conns := range h.rooms {
		ret[project] = len(conns)
	}
	return ret
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	project := r.URL.Query().Get("project")
	if project == "" {
		http.Error(w, "missing project", http.StatusBadRequest)
		return
	}
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Infof("[hub]upgrade error = %s", err)
		return
	}
	c := &conn{id: ulid.Make().String(), ws: ws, send: make(chan []byte, h.settings.BufferSize)}
	h.join(project, c)
	defer h.leave(project, c)
	glog.Infof("[hub]%s joined %s", c.id, project)

	done := make(chan struct{})
	defer close(done)
	go h.write(c, done)
	h.read(project, c)
}

func (h *Hub) join(project string, c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[project]
	if !ok {
		room = map[*conn]struct{}{}
		h.rooms[project] = room
	}
	room[c] = struct{}{}
}

func (h *Hub) leave(project string, c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rooms[project], c)
	if len(h.rooms[project]) == 0 {
		delete(h.rooms, project)
	}
	c.ws.Close()
	glog.Infof("[hub]%s left %s", c.id, project)
}

func (h *Hub) read(project string, c *conn) {
	for {
		c.ws.SetReadDeadline(time.Now().Add(h.settings.ReadTimeout))
		messageType, message, err := c.ws.ReadMessage()
		if err != nil {
			glog.V(1).Infof("[hub]%s<- error = %s", c.id, err)
			return
		}
		if messageType != websocket.TextMessage || len(message) == 0 {
			continue
		}
		var e collab.Envelope
		if err := json.Unmarshal(message, &e); err != nil || e.Validate() != nil {
			glog.Warningf("[hub]%s<- dropped malformed envelope", c.id)
			continue
		}
		if e.Project != "" && e.Project != project {
			glog.Warningf("[hub]%s<- dropped %v for project %s", c.id, e, e.Project)
			continue
		}
		h.broadcast(project, c, message)
	}
}

func (h *Hub) broadcast(project string, from *conn, message []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.rooms[project] {
		if c == from {
			continue
		}
		if !collab.TrySend(c.send, message) {
			glog.V(1).Infof("[hub]drop ->%s", c.id)
		}
	}
}

func (h *Hub) write(c *conn, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case message := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(h.settings.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				glog.V(1).Infof("[hub]->%s error = %s", c.id, err)
				c.ws.Close()
				return
			}
		case <-time.After(h.settings.PingTimeout):
			c.ws.SetWriteDeadline(time.Now().Add(h.settings.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, nil); err != nil {
				c.ws.Close()
				return
			}
		}
	}
}
