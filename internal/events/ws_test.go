package events

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWSHandlerDeliversEvents(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	srv := httptest.NewServer(NewWSHandler(b, discardLogger()))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// Wait for the handler to register its subscription.
	deadline := time.Now().Add(2 * time.Second)
	for b.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("handler never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	want := Event{
		SubjectID: "S010",
		Stage:     StageComfyOutput,
		Image:     "A20",
		Status:    StatusStored,
		Path:      "subjects/subject010/TimelineA/S010_A20.png",
		Timestamp: Now(),
	}
	b.Publish(want)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var got Event
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.SubjectID != "S010" || got.Status != StatusStored || got.Image != "A20" {
		t.Errorf("event = %+v", got)
	}
}

func TestWSHandlerCleansUpOnDisconnect(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	srv := httptest.NewServer(NewWSHandler(b, discardLogger()))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	deadline := time.Now().Add(2 * time.Second)
	for b.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("handler never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	conn.Close()

	deadline = time.Now().Add(2 * time.Second)
	for b.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription not cleaned up after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
