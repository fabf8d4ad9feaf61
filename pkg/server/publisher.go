package server

import (
	"context"
	"log/slog"
	"sync"

	"github.com/vango-dev/tether/pkg/link"
	"github.com/vango-dev/tether/pkg/state"
)

// ClientFilter reports whether client may see key. Keys it rejects are
// removed from that client's snapshots and diffs.
type ClientFilter func(client link.ClientID, key string) bool

// publication is one queued publish. An empty client means broadcast.
type publication struct {
	client link.ClientID
	topic  string
	cs     state.ChangeSet
}

// publisher delivers publications to the transport from a single goroutine,
// in the order they were queued.
type publisher struct {
	transport link.Transport
	filter    ClientFilter
	metrics   *Metrics
	logger    *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []publication
	busy    bool
	closed  bool
	stopped bool
	done    chan struct{}
}

func newPublisher(t link.Transport, filter ClientFilter, m *Metrics, logger *slog.Logger) *publisher {
	p := &publisher{
		transport: t,
		filter:    filter,
		metrics:   m,
		logger:    logger,
		done:      make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	go p.run()
	return p
}

// enqueue queues pub. It reports false after close.
func (p *publisher) enqueue(pub publication) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.queue = append(p.queue, pub)
	p.cond.Broadcast()
	return true
}

func (p *publisher) run() {
	defer close(p.done)
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.stopped = true
			p.cond.Broadcast()
			p.mu.Unlock()
			return
		}
		pub := p.queue[0]
		p.queue[0] = publication{}
		p.queue = p.queue[1:]
		p.busy = true
		p.mu.Unlock()

		p.deliver(pub)

		p.mu.Lock()
		p.busy = false
		p.cond.Broadcast()
		p.mu.Unlock()
	}
}

// drain blocks until everything queued so far reached the transport.
func (p *publisher) drain(ctx context.Context) error {
	idle := make(chan struct{})
	go func() {
		p.mu.Lock()
		for (len(p.queue) > 0 || p.busy) && !p.stopped {
			p.cond.Wait()
		}
		p.mu.Unlock()
		close(idle)
	}()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close stops accepting publications and waits for the queue to empty.
func (p *publisher) close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *publisher) deliver(pub publication) {
	ctx := context.Background()

	if pub.client != "" {
		cs := pub.cs
		if p.filter != nil {
			cs = p.filtered(pub.client, cs)
			if cs.Empty() && pub.topic != link.TopicSnapshot {
				return
			}
		}
		p.send(ctx, pub.client, pub.topic, cs)
		return
	}

	if p.filter == nil {
		p.send(ctx, "", pub.topic, pub.cs)
		return
	}
	for _, client := range p.transport.Clients() {
		cs := p.filtered(client, pub.cs)
		if cs.Empty() {
			continue
		}
		p.send(ctx, client, pub.topic, cs)
	}
}

func (p *publisher) filtered(client link.ClientID, cs state.ChangeSet) state.ChangeSet {
	return cs.Filter(func(key string) bool {
		return p.filter(client, key)
	})
}

func (p *publisher) send(ctx context.Context, client link.ClientID, topic string, cs state.ChangeSet) {
	payload, err := cs.MarshalJSON()
	if err != nil {
		p.logger.Error("encode publication", "topic", topic, "error", err)
		p.metrics.recordPublish(topic, err)
		return
	}

	if client == "" {
		err = p.transport.Publish(ctx, topic, payload)
	} else {
		err = p.transport.PublishTo(ctx, client, topic, payload)
	}
	p.metrics.recordPublish(topic, err)
	if err != nil {
		p.logger.Warn("publish failed",
			"topic", topic,
			"client", client,
			"keys", cs.Len(),
			"error", err)
	}
}
