// Package broker is the central orchestrator for relayq.
//
// All application code (HTTP handlers, WebSocket push, the sweeper) talks to
// the Broker, never directly to the queue or store layer. This keeps the
// layering strict: transports translate wire requests into broker calls, the
// broker translates them into engine operations.
//
// Data flow:
//
//	Producer → Broker.Publish → queue.Engine.Enqueue → store
//	Consumer → Broker.Consume → queue.Engine.Dequeue → store
//	          → Broker.Ack     → queue.Engine.Ack
//	          → Broker.Reject  → queue.Engine.Reject
//
// Every queue a caller creates gets a companion dead-letter queue named
// "__dlq__<name>" in the same namespace, wired as the engine's dead-letter
// target. The DLQ itself never dead-letters (unlimited receive budget).
package broker

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/snehjoshi/relayq/internal/config"
	"github.com/snehjoshi/relayq/internal/dlq"
	"github.com/snehjoshi/relayq/internal/metrics"
	"github.com/snehjoshi/relayq/internal/namespace"
	"github.com/snehjoshi/relayq/internal/node"
	"github.com/snehjoshi/relayq/internal/queue"
	"github.com/snehjoshi/relayq/internal/queue/store"
	"github.com/snehjoshi/relayq/internal/queue/store/bolt"
	"github.com/snehjoshi/relayq/internal/queue/store/memory"
	"github.com/snehjoshi/relayq/internal/registry"
	"github.com/snehjoshi/relayq/pkg/codec"
)

// ─── error sentinels ─────────────────────────────────────────────────────────

var (
	// ErrPayloadTooLarge is returned by Publish when the body exceeds the
	// configured queue.max_payload_size_kb.
	ErrPayloadTooLarge = errors.New("broker: payload too large")
	// ErrReservedName is returned when a caller addresses a queue whose name
	// uses the internal dead-letter prefix.
	ErrReservedName = errors.New("broker: queue name is reserved")
)

// ─── request / response types ────────────────────────────────────────────────

// PublishRequest carries everything needed to publish one record.
type PublishRequest struct {
	Namespace string
	Queue     string
	Body      []byte
	// Delay postpones first delivery; zero means deliverable immediately.
	Delay time.Duration
}

// PublishResponse is returned after a successful Publish.
type PublishResponse struct {
	RecordID string
}

// QueueInfo is the depth snapshot for a single queue.
type QueueInfo struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
	Available int    `json:"available"`
	InFlight  int    `json:"in_flight"`
	Total     int    `json:"total"`
	DLQDepth  int    `json:"dlq_depth"`
}

// Summary aggregates broker-wide state in one pass.
type Summary struct {
	Queues     int `json:"queues"`
	Namespaces int `json:"namespaces"`
	TotalDepth int `json:"total_depth"`
	// DLQAlerts counts queues whose dead-letter queue holds at least one
	// record.
	DLQAlerts int `json:"dlq_alerts"`
}

// ─── options ─────────────────────────────────────────────────────────────────

// Option is a functional option for the Broker.
type Option func(*Broker)

// WithNamespaceRegistry attaches a namespace.Registry so namespaces are
// registered automatically on first use during Publish and CreateQueue.
func WithNamespaceRegistry(reg *namespace.Registry) Option {
	return func(b *Broker) { b.ns = reg }
}

// ─── Broker ──────────────────────────────────────────────────────────────────

// Broker wires the queue registry, dead-letter manager, and namespace
// registry into a single façade used by every transport.
//
// All methods are safe for concurrent use.
type Broker struct {
	cfg    *config.Config
	nodeID string

	reg    *registry.Registry[[]byte]
	dlqMgr *dlq.Manager

	ns *namespace.Registry

	maxPayload int // bytes
}

// New creates a Broker. Queue data lives under cfg.Node.DataDir/queues when
// the bolt backend is selected; the memory backend keeps nothing on disk.
func New(cfg *config.Config, nodeID string, opts ...Option) (*Broker, error) {
	defPolicy, err := cfg.DefaultPolicy()
	if err != nil {
		return nil, fmt.Errorf("broker: queue policy: %w", err)
	}

	var factory registry.StoreFactory[[]byte]
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		factory = func(name string) (store.Store[[]byte], error) {
			return memory.New[[]byte](), nil
		}
	case config.BackendBolt:
		queuesDir := filepath.Join(cfg.Node.DataDir, "queues")
		factory = func(name string) (store.Store[[]byte], error) {
			// The registry key is "ns/qname"; map it onto ns/qname.db.
			path := filepath.Join(queuesDir, filepath.FromSlash(name)+".db")
			if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
				return nil, fmt.Errorf("create queue dir: %w", err)
			}
			return bolt.Open(path, codec.Bytes{})
		}
	default:
		return nil, fmt.Errorf("broker: unknown storage backend %q", cfg.Storage.Backend)
	}

	reg := registry.New(factory, defPolicy)
	b := &Broker{
		cfg:        cfg,
		nodeID:     nodeID,
		reg:        reg,
		dlqMgr:     dlq.NewManager(reg),
		maxPayload: cfg.Queue.MaxPayloadSizeKB * 1024,
	}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// Close closes every queue engine.
func (b *Broker) Close() error { return b.reg.Close() }

// NodeID returns the node identity string.
func (b *Broker) NodeID() string { return b.nodeID }

// ─── queue management ────────────────────────────────────────────────────────

// CreateQueue explicitly creates a queue and its dead-letter companion.
// pol may be nil to use the server-wide default policy.
func (b *Broker) CreateQueue(ns, name string, pol *queue.Config) error {
	if err := validateNames(ns, name); err != nil {
		return err
	}
	if b.ns != nil {
		if err := b.ns.Ensure(ns); err != nil {
			return fmt.Errorf("broker: ensure namespace %s: %w", ns, err)
		}
	}
	_, err := b.createPair(ns, name, pol)
	return err
}

// createPair registers the DLQ engine first, then the primary wired to it.
func (b *Broker) createPair(ns, name string, pol *queue.Config) (*queue.Engine[[]byte], error) {
	key := Key(ns, name)

	// The DLQ holds records until an operator drains or replays them: no
	// receive budget, retention from the default policy.
	dlqPol := b.reg.DefaultConfig()
	dlqPol.MaxReceiveCount = 0
	deadEng, err := b.reg.Create(Key(ns, dlq.Name(name)), &dlqPol, nil)
	if err != nil {
		if errors.Is(err, registry.ErrQueueExists) {
			return nil, fmt.Errorf("%w: %s", registry.ErrQueueExists, key)
		}
		return nil, fmt.Errorf("broker: create dlq for %s: %w", key, err)
	}

	eng, err := b.reg.Create(key, pol, deadEng, queue.WithDropHook[[]byte](func(id string, st queue.State) {
		switch st {
		case queue.StateExpired:
			metrics.RecordsExpired.WithLabelValues(ns, name).Inc()
		case queue.StateDeadLettered:
			metrics.RecordsDeadLettered.WithLabelValues(ns, name).Inc()
		}
	}))
	if err != nil {
		_ = b.reg.Delete(Key(ns, dlq.Name(name)))
		return nil, err
	}
	return eng, nil
}

// getOrCreate returns the engine for ns/name, creating the queue pair on
// first use the way Publish and Consume expect.
func (b *Broker) getOrCreate(ns, name string) (*queue.Engine[[]byte], error) {
	if eng, err := b.reg.Get(Key(ns, name)); err == nil {
		return eng, nil
	}
	if err := validateNames(ns, name); err != nil {
		return nil, err
	}
	if b.ns != nil {
		if err := b.ns.Ensure(ns); err != nil {
			return nil, fmt.Errorf("broker: ensure namespace %s: %w", ns, err)
		}
	}
	eng, err := b.createPair(ns, name, nil)
	if errors.Is(err, registry.ErrQueueExists) {
		// Lost a creation race; the winner's engine is registered now.
		return b.reg.Get(Key(ns, name))
	}
	return eng, err
}

// DeleteQueue removes a queue and its dead-letter companion.
func (b *Broker) DeleteQueue(ns, name string) error {
	if err := b.reg.Delete(Key(ns, name)); err != nil {
		return err
	}
	// The DLQ pair always exists for broker-created queues; tolerate its
	// absence anyway.
	if err := b.reg.Delete(Key(ns, dlq.Name(name))); err != nil && !errors.Is(err, registry.ErrQueueNotFound) {
		return err
	}
	return nil
}

// ListQueues returns the sorted registry keys of all primary queues.
func (b *Broker) ListQueues() []string {
	keys := b.reg.List()
	out := keys[:0]
	for _, k := range keys {
		if _, name, err := SplitKey(k); err == nil && !dlq.IsDLQ(name) {
			out = append(out, k)
		}
	}
	return out
}

// ─── publish / consume / ack / reject ────────────────────────────────────────

// Publish stores a record on the named queue and returns its assigned id.
// The queue (and its namespace) is created implicitly on first use.
func (b *Broker) Publish(req PublishRequest) (*PublishResponse, error) {
	if len(req.Body) > b.maxPayload {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(req.Body), b.maxPayload)
	}

	eng, err := b.getOrCreate(req.Namespace, req.Queue)
	if err != nil {
		return nil, err
	}

	id, err := node.NewID()
	if err != nil {
		return nil, fmt.Errorf("broker: generate record id: %w", err)
	}

	rec := queue.Record[[]byte]{ID: id, Payload: req.Body}
	if req.Delay > 0 {
		rec.VisibleAt = time.Now().Add(req.Delay)
	}
	if err := eng.Enqueue(rec); err != nil {
		return nil, fmt.Errorf("broker: publish to %s/%s: %w", req.Namespace, req.Queue, err)
	}

	metrics.RecordsPublished.WithLabelValues(req.Namespace, req.Queue).Inc()
	return &PublishResponse{RecordID: id}, nil
}

// Consume returns the next deliverable record from the named queue, or nil
// when none is eligible right now.
func (b *Broker) Consume(ns, name string) (*queue.Record[[]byte], error) {
	eng, err := b.getOrCreate(ns, name)
	if err != nil {
		return nil, err
	}
	rec, err := eng.Dequeue()
	if err != nil {
		return nil, err
	}
	if rec != nil {
		metrics.RecordsDelivered.WithLabelValues(ns, name).Inc()
	}
	return rec, nil
}

// Ack acknowledges an in-flight record by id.
func (b *Broker) Ack(ns, name, id string) error {
	eng, err := b.reg.Get(Key(ns, name))
	if err != nil {
		return err
	}
	if err := eng.Ack(id); err != nil {
		return err
	}
	metrics.RecordsAcked.WithLabelValues(ns, name).Inc()
	return nil
}

// Reject signals failed processing of an in-flight record. With requeue the
// record becomes deliverable immediately; without it the record is discarded
// or dead-lettered.
func (b *Broker) Reject(ns, name, id string, requeue bool) error {
	eng, err := b.reg.Get(Key(ns, name))
	if err != nil {
		return err
	}
	if err := eng.Reject(id, requeue); err != nil {
		return err
	}
	mode := "drop"
	if requeue {
		mode = "requeue"
	}
	metrics.RecordsRejected.WithLabelValues(ns, name, mode).Inc()
	return nil
}

// ─── stats ───────────────────────────────────────────────────────────────────

// QueueStats returns a depth snapshot for every primary queue, sorted by
// namespace then name, and refreshes the depth gauges as a side effect.
func (b *Broker) QueueStats() []QueueInfo {
	out := make([]QueueInfo, 0, 16)
	for _, key := range b.ListQueues() {
		ns, name, err := SplitKey(key)
		if err != nil {
			continue
		}
		eng, err := b.reg.Get(key)
		if err != nil {
			continue
		}
		avail := eng.Len()
		info := QueueInfo{
			Namespace: ns,
			Name:      name,
			Available: avail,
			InFlight:  eng.InFlightCount(),
			Total:     eng.TotalCount(),
			DLQDepth:  b.dlqMgr.Len(key),
		}
		metrics.QueueDepth.WithLabelValues(ns, name).Set(float64(avail))
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Namespace != out[j].Namespace {
			return out[i].Namespace < out[j].Namespace
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// QueueInfoFor returns the snapshot for one queue.
func (b *Broker) QueueInfoFor(ns, name string) (QueueInfo, error) {
	eng, err := b.reg.Get(Key(ns, name))
	if err != nil {
		return QueueInfo{}, err
	}
	return QueueInfo{
		Namespace: ns,
		Name:      name,
		Available: eng.Len(),
		InFlight:  eng.InFlightCount(),
		Total:     eng.TotalCount(),
		DLQDepth:  b.dlqMgr.Len(Key(ns, name)),
	}, nil
}

// Summarize aggregates all primary queues in one pass.
func (b *Broker) Summarize() Summary {
	var s Summary
	nsSet := make(map[string]struct{}, 8)
	for _, info := range b.QueueStats() {
		s.Queues++
		s.TotalDepth += info.Total
		if info.DLQDepth > 0 {
			s.DLQAlerts++
		}
		nsSet[info.Namespace] = struct{}{}
	}
	s.Namespaces = len(nsSet)
	return s
}

// ─── sweeping ────────────────────────────────────────────────────────────────

// SweepAll runs one eager maintenance pass over every queue, DLQs included,
// and returns the aggregate counts. The first store error aborts the pass.
func (b *Broker) SweepAll() (expired, deadLettered int, err error) {
	for _, key := range b.reg.List() {
		eng, gerr := b.reg.Get(key)
		if gerr != nil {
			continue // deleted mid-pass
		}
		e, d, serr := eng.Sweep()
		expired += e
		deadLettered += d
		if serr != nil {
			return expired, deadLettered, fmt.Errorf("broker: sweep %s: %w", key, serr)
		}
	}
	return expired, deadLettered, nil
}

// ─── DLQ operations ──────────────────────────────────────────────────────────

// DrainDLQ destructively dequeues up to limit records from the DLQ of
// ns/name. Callers must ack or reject each returned record via AckDLQ /
// RejectDLQ.
func (b *Broker) DrainDLQ(ns, name string, limit int) ([]*queue.Record[[]byte], error) {
	return b.dlqMgr.Drain(Key(ns, name), limit)
}

// ReplayDLQ moves up to limit records from the DLQ back onto ns/name.
func (b *Broker) ReplayDLQ(ns, name string, limit int) (int, error) {
	return b.dlqMgr.Replay(Key(ns, name), limit)
}

// DLQLen returns the dead-letter depth for ns/name.
func (b *Broker) DLQLen(ns, name string) int {
	return b.dlqMgr.Len(Key(ns, name))
}

// AckDLQ acknowledges a drained record on the DLQ of ns/name.
func (b *Broker) AckDLQ(ns, name, id string) error {
	return b.Ack(ns, dlq.Name(name), id)
}

// RejectDLQ rejects a drained record back onto the DLQ of ns/name.
func (b *Broker) RejectDLQ(ns, name, id string) error {
	return b.Reject(ns, dlq.Name(name), id, true)
}

// ─── helpers ─────────────────────────────────────────────────────────────────

// Key builds the registry key for a namespace and queue name.
func Key(ns, name string) string { return ns + "/" + name }

// SplitKey splits "ns/name" into ("ns", "name").
func SplitKey(key string) (ns, name string, err error) {
	idx := strings.IndexByte(key, '/')
	if idx < 0 {
		return "", "", fmt.Errorf("broker: malformed queue key %q", key)
	}
	return key[:idx], key[idx+1:], nil
}

func validateNames(ns, name string) error {
	if !namespace.ValidName(ns) {
		return fmt.Errorf("%w: %q", namespace.ErrInvalidName, ns)
	}
	if dlq.IsDLQ(name) {
		return fmt.Errorf("%w: %q", ErrReservedName, name)
	}
	if !namespace.ValidName(name) {
		return fmt.Errorf("%w: %q", namespace.ErrInvalidName, name)
	}
	return nil
}
