// Package mixer pools admitted requests from multiple tenants behind shared
// upstream identities, optionally delaying dispatch within a bounded batching
// window for timing obfuscation. Grouping is by policy-compatible provider or
// model class, never by tenant identity.
package mixer

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zeroveil/gateway/internal/domain"
	"github.com/zeroveil/gateway/internal/router"
)

// GroupBy selects the mixing pool key.
type GroupBy string

const (
	// GroupByProvider pools requests per upstream provider class.
	GroupByProvider GroupBy = "provider"
	// GroupByModel pools requests per requested model class.
	GroupByModel GroupBy = "model"
)

// Config tunes the aggregation layer.
type Config struct {
	// BatchWindow is the maximum wait from the first member joining until
	// the batch seals. Zero disables batching entirely (pass-through).
	BatchWindow time.Duration
	// MaxBatchSize seals a batch early when reached.
	MaxBatchSize int
	// GroupBy selects the grouping key.
	GroupBy GroupBy
	// PoolSlots bounds concurrent batches in flight per shared identity.
	PoolSlots int
	// QueueDepth bounds sealed batches waiting for a slot; beyond it the
	// members fail with capacity_exceeded.
	QueueDepth int
	// Credentials maps grouping keys to shared credential references.
	Credentials map[string]domain.CredentialRef
	// DefaultCredential backs any group without an explicit entry.
	DefaultCredential domain.CredentialRef
}

func (c *Config) applyDefaults() {
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 16
	}
	if c.GroupBy == "" {
		c.GroupBy = GroupByProvider
	}
	if c.PoolSlots <= 0 {
		c.PoolSlots = 2
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 32
	}
	if c.DefaultCredential == "" {
		c.DefaultCredential = "shared"
	}
}

// Dispatcher carries one member's request upstream. Implemented by the
// gateway's routing controller.
type Dispatcher interface {
	DispatchMember(ctx context.Context, req *domain.UpstreamRequest, credential domain.CredentialRef) *router.Result
}

// Member is one admitted request inside a batch. Responses are correlated
// back by request id through the member's own channel, never by position.
type Member struct {
	RequestID string
	Model     string
	Messages  []domain.Message
	JoinedAt  time.Time

	done chan *router.Result
}

// MixBatch groups members sharing one upstream identity within one window.
// The mixer owns batches exclusively for their lifetime.
type MixBatch struct {
	ID          string
	GroupKey    string
	Credential  domain.CredentialRef
	WindowStart time.Time
	Deadline    time.Time

	members []*Member
	timer   *time.Timer
}

// pool is the bounded dispatch capacity for one shared identity.
type pool struct {
	queue chan *MixBatch
}

// Mixer assigns admitted requests to batches and demultiplexes results.
type Mixer struct {
	cfg        Config
	dispatcher Dispatcher
	logger     *slog.Logger
	now        func() time.Time

	// onResult is invoked for every member result, even when the original
	// caller has disconnected, so outcomes are always recorded.
	onResult func(*Member, *router.Result)

	mu    sync.Mutex
	open  map[string]*MixBatch
	pools map[string]*pool

	inflight sync.WaitGroup
}

// New creates a mixer dispatching through d.
func New(cfg Config, d Dispatcher, logger *slog.Logger) *Mixer {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Mixer{
		cfg:        cfg,
		dispatcher: d,
		logger:     logger,
		now:        time.Now,
		open:       make(map[string]*MixBatch),
		pools:      make(map[string]*pool),
	}
}

// SetResultObserver registers a callback invoked once per member result.
func (m *Mixer) SetResultObserver(fn func(*Member, *router.Result)) {
	m.onResult = fn
}

// GroupKey computes the mixing key for a request. The key deliberately
// excludes tenant identity.
func (m *Mixer) GroupKey(providerClass, model string) string {
	switch m.cfg.GroupBy {
	case GroupByModel:
		if model == "" {
			return "model:default"
		}
		// Collapse versioned model names into a class, e.g. gpt-4o-mini
		// and gpt-4o share "model:gpt".
		family, _, _ := strings.Cut(model, "-")
		return "model:" + family
	default:
		return "provider:" + providerClass
	}
}

// Submit assigns the member to the open batch for groupKey and waits for its
// demultiplexed result. If ctx ends first the member stays in its batch: a
// dispatch already under way still completes so sibling members are not
// disturbed, and the result is recorded even though it is undeliverable.
func (m *Mixer) Submit(ctx context.Context, groupKey string, member *Member) (*router.Result, error) {
	member.done = make(chan *router.Result, 1)
	if member.JoinedAt.IsZero() {
		member.JoinedAt = m.now()
	}

	if m.cfg.BatchWindow <= 0 {
		// Pass-through: a batch of one, sealed immediately.
		batch := m.newBatch(groupKey, member.JoinedAt)
		batch.members = []*Member{member}
		m.enqueue(batch)
	} else {
		m.join(groupKey, member)
	}

	select {
	case res := <-member.done:
		return res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Mixer) newBatch(groupKey string, start time.Time) *MixBatch {
	cred, ok := m.cfg.Credentials[groupKey]
	if !ok {
		cred = m.cfg.DefaultCredential
	}
	return &MixBatch{
		ID:          "mix_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:16],
		GroupKey:    groupKey,
		Credential:  cred,
		WindowStart: start,
		Deadline:    start.Add(m.cfg.BatchWindow),
	}
}

// join adds the member to the group's open batch, creating one (and arming
// its window timer) if needed. Reaching the member cap seals immediately.
func (m *Mixer) join(groupKey string, member *Member) {
	m.mu.Lock()
	batch, ok := m.open[groupKey]
	if !ok {
		batch = m.newBatch(groupKey, m.now())
		m.open[groupKey] = batch
		b := batch
		batch.timer = time.AfterFunc(m.cfg.BatchWindow, func() {
			m.sealOnDeadline(groupKey, b)
		})
	}
	batch.members = append(batch.members, member)

	full := len(batch.members) >= m.cfg.MaxBatchSize
	if full {
		delete(m.open, groupKey)
		if batch.timer != nil {
			batch.timer.Stop()
		}
	}
	m.mu.Unlock()

	if full {
		m.enqueue(batch)
	}
}

// sealOnDeadline seals the batch when its window elapses, unless a size-cap
// seal already took it.
func (m *Mixer) sealOnDeadline(groupKey string, batch *MixBatch) {
	m.mu.Lock()
	current, ok := m.open[groupKey]
	if !ok || current != batch {
		m.mu.Unlock()
		return
	}
	delete(m.open, groupKey)
	m.mu.Unlock()

	m.enqueue(batch)
}

// enqueue hands a sealed batch to the group's identity pool. A full queue
// fails every member with capacity_exceeded; batches never wait unbounded.
func (m *Mixer) enqueue(batch *MixBatch) {
	m.mu.Lock()
	p, ok := m.pools[batch.GroupKey]
	if !ok {
		p = &pool{queue: make(chan *MixBatch, m.cfg.QueueDepth)}
		m.pools[batch.GroupKey] = p
		for range m.cfg.PoolSlots {
			go m.worker(p)
		}
	}
	m.mu.Unlock()

	m.inflight.Add(1)
	select {
	case p.queue <- batch:
	default:
		m.inflight.Done()
		err := domain.ErrServer(domain.ReasonCapacityExceeded, "capacity exceeded")
		for _, member := range batch.members {
			m.deliver(member, &router.Result{Err: err})
		}
	}
}

// worker holds one shared-identity slot, processing queued batches.
func (m *Mixer) worker(p *pool) {
	for batch := range p.queue {
		m.processBatch(batch)
		m.inflight.Done()
	}
}

// processBatch dispatches members in join order and waits for all of them,
// holding the identity slot for the batch's lifetime. Each member waits for
// its predecessor to initiate before sending, then completes independently,
// so one member's failure never fails or delays its siblings.
func (m *Mixer) processBatch(batch *MixBatch) {
	var wg sync.WaitGroup
	prev := make(chan struct{})
	close(prev)
	for _, member := range batch.members {
		wg.Add(1)
		started := make(chan struct{})
		go func(member *Member, ready <-chan struct{}, started chan<- struct{}) {
			defer wg.Done()
			req := &domain.UpstreamRequest{
				RequestID: member.RequestID,
				Model:     member.Model,
				Messages:  member.Messages,
			}
			<-ready
			close(started)
			// Background context: a member already dispatched completes
			// even if its original caller has gone away.
			res := m.dispatcher.DispatchMember(context.Background(), req, batch.Credential)
			m.deliver(member, res)
		}(member, prev, started)
		prev = started
	}
	wg.Wait()
}

func (m *Mixer) deliver(member *Member, res *router.Result) {
	member.done <- res
	if m.onResult != nil {
		m.onResult(member, res)
	}
}

// queuedBatches reports sealed batches waiting for a slot in the group's
// pool.
func (m *Mixer) queuedBatches(groupKey string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[groupKey]
	if !ok {
		return 0
	}
	return len(p.queue)
}

// Drain waits for all in-flight batches to finish. Used during shutdown.
func (m *Mixer) Drain() {
	m.inflight.Wait()
}
