package wsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"github.com/riffline/riffline/collab"
)

// Client is a collab.Bus over a websocket connection to a Hub. It reconnects
// until closed. Envelopes published while disconnected are queued up to the
// buffer size and dropped after that.
type Client struct {
	ctx      context.Context
	cancel   context.CancelFunc
	url      string
	settings *Settings

	local     *collab.LocalBus
	send      chan []byte
	connected atomic.Bool
}

var _ collab.Bus = (*Client)(nil)

// Dial starts connecting to the relay at relayURL, joining the room of the
// project. It returns immediately.
func Dial(ctx context.Context, relayURL, project string, settings *Settings) (*Client, error) {
	u, err := url.Parse(relayURL)
	if err != nil {
		return nil, fmt.Errorf("relay url %q: %w", relayURL, err)
	}
	q := u.Query()
	q.Set("project", project)
	u.RawQuery = q.Encode()
	if settings == nil {
		settings = DefaultSettings()
	}
	cancelCtx, cancel := context.WithCancel(ctx)
	c := &Client{
		ctx:      cancelCtx,
		cancel:   cancel,
		url:      u.String(),
		settings: settings,
		local:    collab.NewLocalBus(),
		send:     make(chan []byte, settings.BufferSize),
	}
	go c.run()
	return c, nil
}

func (c *Client) Subscribe(id string, ch chan<- collab.Envelope) error {
	return c.local.Subscribe(id, ch)
}

func (c *Client) Unsubscribe(id string) error {
	return c.local.Unsubscribe(id)
}

// Publish sends e to the relay and to the local subscribers.
func (c *Client) Publish(e collab.Envelope) error {
	if c.ctx.Err() != nil {
		return collab.ErrBusClosed
	}
	message, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode %v: %w", e, err)
	}
	if !collab.TrySend(c.send, message) {
		glog.Warningf("[ws]send queue full, dropped %v", e)
	}
	return c.local.Publish(e)
}

// Connected reports whether the client is connected to the relay right now.
func (c *Client) Connected() bool { return c.connected.Load() }

func (c *Client) Close() error {
	c.cancel()
	return c.local.Close()
}

func (c *Client) run() {
	defer c.cancel()
	for {
		ws, _, err := websocket.DefaultDialer.DialContext(c.ctx, c.url, nil)
		if err != nil {
			glog.Infof("[ws]connect %s error = %s", c.url, err)
		} else {
			glog.Infof("[ws]connected %s", c.url)
			c.handle(ws)
			glog.Infof("[ws]disconnected %s", c.url)
		}
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(c.settings.ReconnectTimeout):
		}
	}
}

func (c *Client) handle(ws *websocket.Conn) {
	defer ws.Close()
	c.connected.Store(true)
	defer c.connected.Store(false)

	handleCtx, handleCancel := context.WithCancel(c.ctx)
	defer handleCancel()

	go func() {
		defer handleCancel()
		for {
			select {
			case <-handleCtx.Done():
				return
			case message := <-c.send:
				ws.SetWriteDeadline(time.Now().Add(c.settings.WriteTimeout))
				if err := ws.WriteMessage(websocket.TextMessage, message); err != nil {
					// a websocket write deadline cannot be recovered from
					glog.Infof("[ws]-> error = %s", err)
					return
				}
			case <-time.After(c.settings.PingTimeout):
				ws.SetWriteDeadline(time.Now().Add(c.settings.WriteTimeout))
				if err := ws.WriteMessage(websocket.TextMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	go func() {
		defer handleCancel()
		for {
			ws.SetReadDeadline(time.Now().Add(c.settings.ReadTimeout))
			messageType, message, err := ws.ReadMessage()
			if err != nil {
				if handleCtx.Err() == nil {
					glog.Infof("[ws]<- error = %s", err)
				}
				return
			}
			if messageType != websocket.TextMessage || len(message) == 0 {
				continue // ping
			}
			var e collab.Envelope
			if err := json.Unmarshal(message, &e); err != nil {
				glog.Warningf("[ws]<- undecodable message: %s", err)
				continue
			}
			if err := c.local.Publish(e); err != nil {
				return
			}
		}
	}()

	<-handleCtx.Done()
}
