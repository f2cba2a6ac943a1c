// Package nats implements pubsub on core NATS subjects.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/fanzone/memefeed/internal/pubsub"
)

// conn is the subset of *nats.Conn used here, injectable for tests.
type conn interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, handler func(subject string, data []byte)) (unsubscribe func() error, err error)
	Close()
}

type connectFunc func(url string, opts ...nats.Option) (conn, error)

var defaultConnect connectFunc = func(url string, opts ...nats.Option) (conn, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &natsConn{nc: nc}, nil
}

type natsConn struct {
	nc *nats.Conn
}

func (c *natsConn) Publish(subject string, data []byte) error {
	return c.nc.Publish(subject, data)
}

func (c *natsConn) Subscribe(subject string, handler func(string, []byte)) (func() error, error) {
	sub, err := c.nc.Subscribe(subject, func(m *nats.Msg) {
		handler(m.Subject, m.Data)
	})
	if err != nil {
		return nil, err
	}
	return sub.Unsubscribe, nil
}

func (c *natsConn) Close() {
	c.nc.Close()
}

// Provider implements pubsub.Provider on a NATS connection.
type Provider struct {
	url     string
	name    string
	connect connectFunc

	mu sync.RWMutex
	nc conn
}

var (
	_ pubsub.Provider    = (*Provider)(nil)
	_ pubsub.Connectable = (*Provider)(nil)
)

// NewProvider creates a provider for url. Call Connect before use.
func NewProvider(url, name string) *Provider {
	return &Provider{url: url, name: name, connect: defaultConnect}
}

// Connect dials the NATS server.
func (p *Provider) Connect(ctx context.Context) error {
	opts := []nats.Option{nats.Name(p.name)}
	if deadline, ok := ctx.Deadline(); ok {
		opts = append(opts, nats.Timeout(time.Until(deadline)))
	}
	nc, err := p.connect(p.url, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", p.url, err)
	}
	p.mu.Lock()
	p.nc = nc
	p.mu.Unlock()
	slog.Info("Connected to NATS", "url", p.url)
	return nil
}

func (p *Provider) connection() (conn, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.nc == nil {
		return nil, fmt.Errorf("NATS not connected, call Connect first")
	}
	return p.nc, nil
}

// NewPublisher creates a publisher on the connection.
func (p *Provider) NewPublisher(opts pubsub.PublisherOptions) (pubsub.Publisher, error) {
	nc, err := p.connection()
	if err != nil {
		return nil, err
	}
	return &publisher{nc: nc, opts: opts}, nil
}

// NewConsumer creates a consumer on the connection.
func (p *Provider) NewConsumer(opts pubsub.ConsumerOptions) (pubsub.Consumer, error) {
	nc, err := p.connection()
	if err != nil {
		return nil, err
	}
	defaults := pubsub.DefaultConsumerOptions()
	if opts.FilterSubject == "" {
		opts.FilterSubject = defaults.FilterSubject
	}
	if opts.ChannelBufSize <= 0 {
		opts.ChannelBufSize = defaults.ChannelBufSize
	}
	return &consumer{nc: nc, opts: opts}, nil
}

// Close closes the NATS connection.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.nc != nil {
		slog.Info("Closing NATS connection...")
		p.nc.Close()
		p.nc = nil
	}
	return nil
}

type publisher struct {
	nc   conn
	opts pubsub.PublisherOptions
}

func (p *publisher) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	fullSubject := pubsub.FullSubject(p.opts.SubjectPrefix, subject)

	err := p.nc.Publish(fullSubject, data)
	if err != nil {
		err = fmt.Errorf("publish %s: %w", fullSubject, err)
	}
	if p.opts.OnPublish != nil {
		p.opts.OnPublish(fullSubject, err, time.Since(start))
	}
	return err
}

func (p *publisher) Close() error { return nil }

type message struct {
	subject string
	data    []byte
}

func (m *message) Data() []byte    { return m.data }
func (m *message) Subject() string { return m.subject }

type consumer struct {
	nc   conn
	opts pubsub.ConsumerOptions
}

// Subscribe delivers messages until ctx ends. A full channel blocks the
// connection's delivery goroutine for this subscription.
func (c *consumer) Subscribe(ctx context.Context) (<-chan pubsub.Message, error) {
	msgCh := make(chan pubsub.Message, c.opts.ChannelBufSize)

	var (
		mu     sync.Mutex
		closed bool
	)
	unsubscribe, err := c.nc.Subscribe(c.opts.FilterSubject, func(subject string, data []byte) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case msgCh <- &message{subject: subject, data: data}:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", c.opts.FilterSubject, err)
	}

	go func() {
		<-ctx.Done()
		if err := unsubscribe(); err != nil {
			slog.Warn("Failed to unsubscribe from NATS", "subject", c.opts.FilterSubject, "error", err)
		}
		mu.Lock()
		closed = true
		close(msgCh)
		mu.Unlock()
	}()

	return msgCh, nil
}
