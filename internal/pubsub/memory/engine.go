package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fanzone/memefeed/internal/pubsub"
)

var _ pubsub.Provider = (*Engine)(nil)

// Engine routes messages between in-process publishers and consumers.
// Delivery blocks until every matching subscriber has buffer room, the
// publisher's ctx ends, or the subscriber goes away.
type Engine struct {
	mu     sync.RWMutex
	subs   map[*subscription]struct{}
	closed atomic.Bool
}

type subscription struct {
	filter  subjectFilter
	msgCh   chan pubsub.Message
	ctx     context.Context
	cancel  context.CancelFunc
}

type message struct {
	data    []byte
	subject string
}

func (m *message) Data() []byte    { return m.data }
func (m *message) Subject() string { return m.subject }

// New creates a new in-memory pubsub engine.
func New() *Engine {
	return &Engine{subs: make(map[*subscription]struct{})}
}

// NewPublisher creates a Publisher on this engine.
func (e *Engine) NewPublisher(opts pubsub.PublisherOptions) (pubsub.Publisher, error) {
	if e.IsClosed() {
		return nil, ErrEngineClosed
	}
	return &publisher{engine: e, opts: opts}, nil
}

// NewConsumer creates a Consumer on this engine.
func (e *Engine) NewConsumer(opts pubsub.ConsumerOptions) (pubsub.Consumer, error) {
	if e.IsClosed() {
		return nil, ErrEngineClosed
	}
	defaults := pubsub.DefaultConsumerOptions()
	if opts.FilterSubject == "" {
		opts.FilterSubject = defaults.FilterSubject
	}
	if opts.ChannelBufSize <= 0 {
		opts.ChannelBufSize = defaults.ChannelBufSize
	}
	return &consumer{engine: e, opts: opts}, nil
}

// Close shuts down the engine and closes every subscription channel.
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for sub := range e.subs {
		sub.cancel()
		close(sub.msgCh)
	}
	e.subs = nil
	return nil
}

// IsClosed returns true if the engine is closed.
func (e *Engine) IsClosed() bool {
	return e.closed.Load()
}

func (e *Engine) publish(ctx context.Context, subject string, data []byte) error {
	if e.IsClosed() {
		return ErrEngineClosed
	}
	if err := checkSubject(subject); err != nil {
		return err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	for sub := range e.subs {
		if !sub.filter.matches(subject) {
			continue
		}
		msg := &message{data: data, subject: subject}
		select {
		case sub.msgCh <- msg:
		case <-ctx.Done():
			return ctx.Err()
		case <-sub.ctx.Done():
		}
	}
	return nil
}

func (e *Engine) subscribe(ctx context.Context, pattern string, bufSize int) (<-chan pubsub.Message, error) {
	if e.IsClosed() {
		return nil, ErrEngineClosed
	}
	filter, err := parseFilter(pattern)
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		filter:  filter,
		msgCh:   make(chan pubsub.Message, bufSize),
		ctx:     subCtx,
		cancel:  cancel,
	}

	e.mu.Lock()
	if e.subs == nil {
		e.mu.Unlock()
		cancel()
		return nil, ErrEngineClosed
	}
	e.subs[sub] = struct{}{}
	e.mu.Unlock()

	go func() {
		<-subCtx.Done()
		e.mu.Lock()
		defer e.mu.Unlock()
		if _, ok := e.subs[sub]; ok {
			delete(e.subs, sub)
			close(sub.msgCh)
		}
	}()

	return sub.msgCh, nil
}

// Subscribers returns the number of live subscriptions.
func (e *Engine) Subscribers() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs)
}

type publisher struct {
	engine *Engine
	opts   pubsub.PublisherOptions
	closed atomic.Bool
}

func (p *publisher) Publish(ctx context.Context, subject string, data []byte) error {
	if p.closed.Load() {
		return ErrEngineClosed
	}
	start := time.Now()
	fullSubject := pubsub.FullSubject(p.opts.SubjectPrefix, subject)

	err := p.engine.publish(ctx, fullSubject, data)

	if p.opts.OnPublish != nil {
		p.opts.OnPublish(fullSubject, err, time.Since(start))
	}
	return err
}

func (p *publisher) Close() error {
	p.closed.Store(true)
	return nil
}

type consumer struct {
	engine *Engine
	opts   pubsub.ConsumerOptions
}

func (c *consumer) Subscribe(ctx context.Context) (<-chan pubsub.Message, error) {
	return c.engine.subscribe(ctx, c.opts.FilterSubject, c.opts.ChannelBufSize)
}
