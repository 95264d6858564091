package wsbus_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/riffline/riffline/collab"
	"github.com/riffline/riffline/collab/collabtest"
	"github.com/riffline/riffline/collab/wsbus"
	"github.com/riffline/riffline/timeline"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRelay(t *testing.T) {
	hub := wsbus.NewHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alice, err := wsbus.Dial(ctx, url, "p", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer alice.Close()
	bob, _ := wsbus.Dial(ctx, url, "p", nil)
	defer bob.Close()
	eve, _ := wsbus.Dial(ctx, url, "q", nil)
	defer eve.Close()
	waitFor(t, "clients to join", func() bool {
		rooms := hub.Rooms()
		return rooms["p"] == 2 && rooms["q"] == 1
	})

	toBob := make(chan collab.Envelope, 8)
	toEve := make(chan collab.Envelope, 8)
	toAlice := make(chan collab.Envelope, 8)
	bob.Subscribe("bob", toBob)
	eve.Subscribe("eve", toEve)
	alice.Subscribe("alice", toAlice)

	e, _ := collab.NewEnvelope(collab.KindItemDelete, timeline.Origin{PeerID: "alice"}, collab.DeletePayload{IDs: []string{"a"}})
	e.Project = "p"
	if err := alice.Publish(e); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	got, ok := collabtest.Receive[collab.Envelope](toBob, 5*time.Second)
	if !ok {
		t.Fatalf("bob received nothing")
	}
	assert.Equal(t, got.ID, e.ID)
	assert.Equal(t, got.Kind, collab.KindItemDelete)
	assert.Equal(t, got.Origin.PeerID, "alice")

	// local subscribers of the publisher see it too, other rooms do not
	if _, ok := collabtest.Receive[collab.Envelope](toAlice, time.Second); !ok {
		t.Errorf("alice's own subscription missed the envelope")
	}
	if _, ok := collabtest.Receive[collab.Envelope](toEve, 200*time.Millisecond); ok {
		t.Errorf("envelope leaked into another project")
	}
}

func TestHubRequiresProject(t *testing.T) {
	srv := httptest.NewServer(wsbus.NewHub(nil))
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Body.Close()
	assert.Equal(t, resp.StatusCode, 400)
}

func TestClosedClient(t *testing.T) {
	c, err := wsbus.Dial(context.Background(), "ws://127.0.0.1:1", "p", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	c.Close()
	if err := c.Publish(collab.Envelope{ID: "x", Kind: collab.KindItemAdd}); err != collab.ErrBusClosed {
		t.Errorf("Publish after Close: got %v", err)
	}
	assert.Equal(t, c.Connected(), false)
}
