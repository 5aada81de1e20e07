package broker_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/snehjoshi/relayq/internal/broker"
	"github.com/snehjoshi/relayq/internal/config"
	"github.com/snehjoshi/relayq/internal/namespace"
	"github.com/snehjoshi/relayq/internal/queue"
	"github.com/snehjoshi/relayq/internal/registry"
)

func newBroker(t *testing.T, opts ...broker.Option) *broker.Broker {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Backend = config.BackendMemory
	cfg.Node.DataDir = t.TempDir()

	b, err := broker.New(cfg, "test-node", opts...)
	if err != nil {
		t.Fatalf("broker.New: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestBroker_PublishConsumeAckRoundTrip(t *testing.T) {
	b := newBroker(t)

	resp, err := b.Publish(broker.PublishRequest{
		Namespace: "payments",
		Queue:     "orders",
		Body:      []byte(`{"order":42}`),
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if resp.RecordID == "" {
		t.Fatal("Publish returned empty record id")
	}

	rec, err := b.Consume("payments", "orders")
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if rec == nil {
		t.Fatal("Consume returned nothing")
	}
	if rec.ID != resp.RecordID {
		t.Errorf("record id: want %s, got %s", resp.RecordID, rec.ID)
	}
	if !bytes.Equal(rec.Payload, []byte(`{"order":42}`)) {
		t.Errorf("payload: %q", rec.Payload)
	}

	if err := b.Ack("payments", "orders", rec.ID); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if err := b.Ack("payments", "orders", rec.ID); !errors.Is(err, queue.ErrMessageNotFound) {
		t.Errorf("double Ack: want ErrMessageNotFound, got %v", err)
	}
}

func TestBroker_ConsumeEmptyQueue(t *testing.T) {
	b := newBroker(t)
	rec, err := b.Consume("payments", "empty")
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil from empty queue, got %+v", rec)
	}
}

func TestBroker_ImplicitNamespaceRegistration(t *testing.T) {
	nsReg, err := namespace.New(t.TempDir())
	if err != nil {
		t.Fatalf("namespace.New: %v", err)
	}
	b := newBroker(t, broker.WithNamespaceRegistry(nsReg))

	if _, err := b.Publish(broker.PublishRequest{Namespace: "billing", Queue: "invoices", Body: []byte("x")}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if !nsReg.Exists("billing") {
		t.Error("namespace not registered on first publish")
	}
}

func TestBroker_CreateQueue_Validation(t *testing.T) {
	b := newBroker(t)

	if err := b.CreateQueue("payments", "orders", nil); err != nil {
		t.Fatalf("CreateQueue: %v", err)
	}
	if err := b.CreateQueue("payments", "orders", nil); !errors.Is(err, registry.ErrQueueExists) {
		t.Errorf("duplicate create: want ErrQueueExists, got %v", err)
	}
	if err := b.CreateQueue("payments", "__dlq__orders", nil); !errors.Is(err, broker.ErrReservedName) {
		t.Errorf("reserved name: want ErrReservedName, got %v", err)
	}
	if err := b.CreateQueue("Payments!", "orders", nil); !errors.Is(err, namespace.ErrInvalidName) {
		t.Errorf("bad namespace: want ErrInvalidName, got %v", err)
	}
	if err := b.CreateQueue("payments", "has space", nil); !errors.Is(err, namespace.ErrInvalidName) {
		t.Errorf("bad queue name: want ErrInvalidName, got %v", err)
	}
}

func TestBroker_PayloadTooLarge(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Backend = config.BackendMemory
	cfg.Node.DataDir = t.TempDir()
	cfg.Queue.MaxPayloadSizeKB = 1

	b, err := broker.New(cfg, "test-node")
	if err != nil {
		t.Fatalf("broker.New: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })

	_, err = b.Publish(broker.PublishRequest{
		Namespace: "payments",
		Queue:     "orders",
		Body:      make([]byte, 2048),
	})
	if !errors.Is(err, broker.ErrPayloadTooLarge) {
		t.Errorf("want ErrPayloadTooLarge, got %v", err)
	}
}

func TestBroker_PublishWithDelay(t *testing.T) {
	b := newBroker(t)

	if _, err := b.Publish(broker.PublishRequest{
		Namespace: "jobs",
		Queue:     "emails",
		Body:      []byte("later"),
		Delay:     80 * time.Millisecond,
	}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if rec, _ := b.Consume("jobs", "emails"); rec != nil {
		t.Fatalf("delayed record delivered early: %+v", rec)
	}
	time.Sleep(110 * time.Millisecond)
	rec, err := b.Consume("jobs", "emails")
	if err != nil || rec == nil {
		t.Fatalf("Consume after delay: rec=%v err=%v", rec, err)
	}
}

func TestBroker_DeadLetterFlow(t *testing.T) {
	b := newBroker(t)

	pol := queue.DefaultConfig()
	pol.MaxReceiveCount = 1
	if err := b.CreateQueue("payments", "orders", &pol); err != nil {
		t.Fatalf("CreateQueue: %v", err)
	}

	resp, err := b.Publish(broker.PublishRequest{Namespace: "payments", Queue: "orders", Body: []byte("poison")})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	rec, err := b.Consume("payments", "orders")
	if err != nil || rec == nil {
		t.Fatalf("Consume: rec=%v err=%v", rec, err)
	}
	if err := b.Reject("payments", "orders", rec.ID, false); err != nil {
		t.Fatalf("Reject: %v", err)
	}

	if got := b.DLQLen("payments", "orders"); got != 1 {
		t.Fatalf("DLQLen: want 1, got %d", got)
	}

	drained, err := b.DrainDLQ("payments", "orders", 10)
	if err != nil {
		t.Fatalf("DrainDLQ: %v", err)
	}
	if len(drained) != 1 || drained[0].ID != resp.RecordID {
		t.Fatalf("DrainDLQ: %+v", drained)
	}
	if err := b.AckDLQ("payments", "orders", drained[0].ID); err != nil {
		t.Fatalf("AckDLQ: %v", err)
	}
	if got := b.DLQLen("payments", "orders"); got != 0 {
		t.Errorf("DLQLen after ack: want 0, got %d", got)
	}
}

func TestBroker_ReplayDLQ(t *testing.T) {
	b := newBroker(t)

	if _, err := b.Publish(broker.PublishRequest{Namespace: "payments", Queue: "orders", Body: []byte("retryable")}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	rec, _ := b.Consume("payments", "orders")
	if err := b.Reject("payments", "orders", rec.ID, false); err != nil {
		t.Fatalf("Reject: %v", err)
	}

	moved, err := b.ReplayDLQ("payments", "orders", 10)
	if err != nil {
		t.Fatalf("ReplayDLQ: %v", err)
	}
	if moved != 1 {
		t.Fatalf("ReplayDLQ moved %d, want 1", moved)
	}

	again, err := b.Consume("payments", "orders")
	if err != nil || again == nil {
		t.Fatalf("Consume after replay: rec=%v err=%v", again, err)
	}
	if again.ID != rec.ID || !bytes.Equal(again.Payload, []byte("retryable")) {
		t.Errorf("replayed record mismatch: %+v", again)
	}
}

func TestBroker_DeleteQueue_RemovesPair(t *testing.T) {
	b := newBroker(t)

	if err := b.CreateQueue("payments", "orders", nil); err != nil {
		t.Fatalf("CreateQueue: %v", err)
	}
	if err := b.DeleteQueue("payments", "orders"); err != nil {
		t.Fatalf("DeleteQueue: %v", err)
	}
	if got := b.ListQueues(); len(got) != 0 {
		t.Errorf("ListQueues after delete: %v", got)
	}
	if err := b.DeleteQueue("payments", "orders"); !errors.Is(err, registry.ErrQueueNotFound) {
		t.Errorf("double delete: want ErrQueueNotFound, got %v", err)
	}
}

func TestBroker_QueueStatsAndSummarize(t *testing.T) {
	b := newBroker(t)

	if _, err := b.Publish(broker.PublishRequest{Namespace: "payments", Queue: "orders", Body: []byte("a")}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if _, err := b.Publish(broker.PublishRequest{Namespace: "payments", Queue: "orders", Body: []byte("b")}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if _, err := b.Publish(broker.PublishRequest{Namespace: "billing", Queue: "invoices", Body: []byte("c")}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if _, err := b.Consume("payments", "orders"); err != nil {
		t.Fatalf("Consume: %v", err)
	}

	stats := b.QueueStats()
	if len(stats) != 2 {
		t.Fatalf("QueueStats: want 2 queues (DLQs hidden), got %d", len(stats))
	}
	// Sorted by namespace then name: billing/invoices first.
	if stats[0].Namespace != "billing" || stats[1].Namespace != "payments" {
		t.Errorf("stats order: %+v", stats)
	}
	orders := stats[1]
	if orders.Available != 1 || orders.InFlight != 1 || orders.Total != 2 {
		t.Errorf("orders snapshot: %+v", orders)
	}

	sum := b.Summarize()
	if sum.Queues != 2 || sum.Namespaces != 2 || sum.TotalDepth != 3 || sum.DLQAlerts != 0 {
		t.Errorf("Summarize: %+v", sum)
	}
}

func TestBroker_SweepAll(t *testing.T) {
	b := newBroker(t)

	pol := queue.Config{
		VisibilityTimeout: 20 * time.Millisecond,
		RetentionPeriod:   40 * time.Millisecond,
	}
	if err := b.CreateQueue("jobs", "ephemeral", &pol); err != nil {
		t.Fatalf("CreateQueue: %v", err)
	}
	if _, err := b.Publish(broker.PublishRequest{Namespace: "jobs", Queue: "ephemeral", Body: []byte("x")}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	time.Sleep(60 * time.Millisecond)

	expired, dead, err := b.SweepAll()
	if err != nil {
		t.Fatalf("SweepAll: %v", err)
	}
	if expired != 1 || dead != 0 {
		t.Errorf("SweepAll: want (1 expired, 0 dead), got (%d, %d)", expired, dead)
	}
}
