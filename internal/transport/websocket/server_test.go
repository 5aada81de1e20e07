package websocket_test

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	gorillaws "github.com/gorilla/websocket"

	"github.com/snehjoshi/relayq/internal/broker"
	"github.com/snehjoshi/relayq/internal/config"
	"github.com/snehjoshi/relayq/internal/transport/websocket"
)

type frame struct {
	Type         string `json:"type"`
	ID           string `json:"id"`
	Body         string `json:"body"`
	Requeue      bool   `json:"requeue"`
	ReceiveCount int    `json:"receive_count"`
}

// newWSEnv mounts a push Handler on a chi router behind httptest and returns
// the broker plus the ws:// URL for one queue. serveDone is closed when the
// handler's ServeHTTP returns.
func newWSEnv(t *testing.T) (*broker.Broker, string, chan struct{}) {
	t.Helper()

	cfg := config.Default()
	cfg.Storage.Backend = config.BackendMemory
	cfg.Node.DataDir = t.TempDir()

	b, err := broker.New(cfg, "test-node")
	if err != nil {
		t.Fatalf("broker.New: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })

	h := &websocket.Handler{
		Broker:       b,
		Log:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		PollInterval: 20 * time.Millisecond,
	}

	serveDone := make(chan struct{})
	r := chi.NewRouter()
	r.Handle("/namespaces/{ns}/queues/{name}/ws", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		h.ServeHTTP(w, req)
		close(serveDone)
	}))

	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/namespaces/app/queues/jobs/ws"
	return b, wsURL, serveDone
}

func TestHandler_PushAndAck(t *testing.T) {
	b, wsURL, _ := newWSEnv(t)

	if _, err := b.Publish(broker.PublishRequest{
		Namespace: "app", Queue: "jobs", Body: []byte("job-1"),
	}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	conn, _, err := gorillaws.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var got frame
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("decode frame %q: %v", raw, err)
	}
	if got.Type != "record" || got.ID == "" {
		t.Fatalf("unexpected frame: %+v", got)
	}
	body, err := base64.StdEncoding.DecodeString(got.Body)
	if err != nil || string(body) != "job-1" {
		t.Fatalf("body = %q (err %v), want job-1", got.Body, err)
	}
	if got.ReceiveCount != 1 {
		t.Errorf("receive_count = %d, want 1", got.ReceiveCount)
	}

	ack, _ := json.Marshal(frame{Type: "ack", ID: got.ID})
	if err := conn.WriteMessage(gorillaws.TextMessage, ack); err != nil {
		t.Fatalf("WriteMessage(ack): %v", err)
	}

	// The ack is applied asynchronously by the push loop; poll the broker
	// until the record is gone.
	deadline := time.Now().Add(2 * time.Second)
	for {
		info, err := b.QueueInfoFor("app", "jobs")
		if err != nil {
			t.Fatalf("QueueInfoFor: %v", err)
		}
		if info.Total == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("record not acked, still %d stored", info.Total)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHandler_RejectFrameRequeues(t *testing.T) {
	b, wsURL, _ := newWSEnv(t)

	if _, err := b.Publish(broker.PublishRequest{
		Namespace: "app", Queue: "jobs", Body: []byte("bounce"),
	}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	conn, _, err := gorillaws.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var got frame
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("decode frame: %v", err)
	}

	rej, _ := json.Marshal(frame{Type: "reject", ID: got.ID, Requeue: true})
	if err := conn.WriteMessage(gorillaws.TextMessage, rej); err != nil {
		t.Fatalf("WriteMessage(reject): %v", err)
	}

	// The requeued record is pushed again on a later poll tick.
	_, raw, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage after reject: %v", err)
	}
	var again frame
	if err := json.Unmarshal(raw, &again); err != nil {
		t.Fatalf("decode redelivery: %v", err)
	}
	if again.ID != got.ID {
		t.Errorf("redelivered id = %q, want %q", again.ID, got.ID)
	}
	if again.ReceiveCount != 2 {
		t.Errorf("receive_count = %d, want 2", again.ReceiveCount)
	}
}

func TestHandler_StopsWhenClientDisconnects(t *testing.T) {
	_, wsURL, serveDone := newWSEnv(t)

	conn, _, err := gorillaws.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	// Fire a burst of control frames, then drop the connection without
	// waiting for any of them to be processed.
	for i := 0; i < 100; i++ {
		cf, _ := json.Marshal(frame{Type: "reject", ID: fmt.Sprintf("ghost-%d", i), Requeue: true})
		if err := conn.WriteMessage(gorillaws.TextMessage, cf); err != nil {
			t.Fatalf("WriteMessage %d: %v", i, err)
		}
	}
	conn.Close()

	select {
	case <-serveDone:
	case <-time.After(3 * time.Second):
		t.Fatal("handler did not return after client disconnect")
	}
}
