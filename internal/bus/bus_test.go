package bus

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestHub_PublishReachesConnectedSubscriber(t *testing.T) {
	hub := NewHub(nil)
	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer server.Close()

	wsURL := "ws" + server.URL[len("http"):]
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	start := time.Now()
	for hub.SubscriberCount() == 0 {
		if time.Since(start) > time.Second {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(time.Millisecond)
	}

	hub.Publish(Event{EventType: "trace", Source: "test"})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	var got Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.EventType != "trace" || got.Source != "test" {
		t.Errorf("got %+v", got)
	}
}

func TestHub_PublishWithNoSubscribersDoesNotBlock(t *testing.T) {
	hub := NewHub(nil)
	hub.Publish(Event{EventType: "trace"})
}
