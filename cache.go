package rooibos

import (
	"context"
	"sync"
	"time"

	"github.com/jd3nn1s/rooibos/ecm"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var (
	ErrAlreadyRunning = errors.New("poller already running")
	ErrNoSnapshot     = errors.New("no snapshot available")
)

type CacheConfig struct {
	// Interval is the pause between poll cycles. Zero polls back to back.
	Interval time.Duration
	// FirstSnapshotTimeout bounds how long Latest waits for the poller's
	// first snapshot. Defaults to the link read timeout.
	FirstSnapshotTimeout time.Duration
}

// Cache polls a snapshot source in the background and keeps the newest
// snapshot for readers, who never wait on the source themselves.
type Cache struct {
	src     ecm.SnapshotSource
	decoder *ecm.Decoder
	cfg     CacheConfig

	// holds at most one published snapshot nobody has read yet
	slot chan *ecm.Snapshot

	mu       sync.Mutex
	lastGood *ecm.Snapshot

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	// closed by the poller when it first publishes
	first chan struct{}
}

func NewCache(src ecm.SnapshotSource, decoder *ecm.Decoder, cfg CacheConfig) *Cache {
	if cfg.FirstSnapshotTimeout == 0 {
		cfg.FirstSnapshotTimeout = ecm.DefaultReadTimeout
	}
	return &Cache{
		src:     src,
		decoder: decoder,
		cfg:     cfg,
		slot:    make(chan *ecm.Snapshot, 1),
	}
}

// Start begins polling until Stop is called or ctx is done.
func (c *Cache) Start(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.cancel != nil {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	first := make(chan struct{})
	c.cancel = cancel
	c.done = done
	c.first = first

	go func() {
		defer close(done)
		err := retry(ctx, &poller{c: c, first: first})
		if cerr := c.src.Close(); cerr != nil {
			log.WithField("err", cerr).Warnf("%s: unable to close", c.src.Name())
		}
		log.WithField("err", err).Infof("%s: poller stopped", c.src.Name())
	}()
	return nil
}

// Stop ends polling and returns once the source has been closed.
func (c *Cache) Stop() {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
	c.cancel = nil
	c.done = nil
	c.first = nil
}

func (c *Cache) Running() bool {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	return c.cancel != nil
}

// Latest returns the newest snapshot. When nothing new has been published
// since the last call the previous snapshot is returned again.
func (c *Cache) Latest() (*ecm.Snapshot, error) {
	if s := c.take(); s != nil {
		return s, nil
	}

	c.runMu.Lock()
	done, first := c.done, c.first
	if done == nil {
		defer c.runMu.Unlock()
		return c.fetchDirect()
	}
	c.runMu.Unlock()

	timer := time.NewTimer(c.cfg.FirstSnapshotTimeout)
	defer timer.Stop()
	select {
	case <-first:
	case <-done:
	case <-timer.C:
	}
	if s := c.take(); s != nil {
		return s, nil
	}
	return nil, ErrNoSnapshot
}

// take moves any unread snapshot into lastGood and returns lastGood.
func (c *Cache) take() *ecm.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case s := <-c.slot:
		c.lastGood = s
	default:
	}
	return c.lastGood
}

// fetchDirect is the slow path used before the poller has ever run. It is
// called with runMu held so the poller cannot start underneath it.
func (c *Cache) fetchDirect() (*ecm.Snapshot, error) {
	// another reader may have fetched while this one waited for runMu
	if s := c.take(); s != nil {
		return s, nil
	}
	if err := c.src.Open(); err != nil {
		return nil, err
	}
	defer func() {
		if err := c.src.Close(); err != nil {
			log.WithField("err", err).Warnf("%s: unable to close", c.src.Name())
		}
	}()
	s, err := c.src.FetchSnapshot()
	if err != nil {
		return nil, err
	}
	if _, err := c.decoder.DecodeAll(s.Data()); err != nil {
		return nil, errors.Wrap(err, "invalid snapshot")
	}
	c.mu.Lock()
	c.lastGood = s
	c.mu.Unlock()
	return s, nil
}

// publish replaces any unread snapshot with s. Only the poller publishes.
func (c *Cache) publish(s *ecm.Snapshot) {
	for {
		select {
		case c.slot <- s:
			lastSnapshot.Set(float64(s.CapturedAt.UnixNano()) / 1e9)
			return
		default:
		}
		select {
		case <-c.slot:
			snapshotsDropped.Inc()
		default:
		}
	}
}

// poller adapts the cache's source to the retrier.
type poller struct {
	c         *Cache
	first     chan struct{}
	announced bool
}

func (p *poller) Name() string {
	return p.c.src.Name()
}

func (p *poller) Open() error {
	return p.c.src.Open()
}

func (p *poller) Close() error {
	return p.c.src.Close()
}

// Start polls until ctx is done or the link fails.
func (p *poller) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := p.pollOnce(); err != nil {
			return err
		}
		if p.c.cfg.Interval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.c.cfg.Interval):
			}
		}
	}
}

// pollOnce fetches and publishes one snapshot. Only link failures are
// returned; a bad response just means there is nothing new this cycle.
func (p *poller) pollOnce() error {
	pollCycles.Inc()
	start := time.Now()
	s, err := p.c.src.FetchSnapshot()
	fetchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		pollErrors.WithLabelValues(errorKind(err)).Inc()
		if ecm.IsProtocolError(err) {
			log.WithField("err", err).Debugf("%s: no snapshot this cycle", p.Name())
			return nil
		}
		return err
	}
	if _, err := p.c.decoder.DecodeAll(s.Data()); err != nil {
		pollErrors.WithLabelValues(errorKind(err)).Inc()
		log.WithField("err", err).Warnf("%s: discarding malformed snapshot", p.Name())
		return nil
	}
	p.c.publish(s)
	if !p.announced {
		close(p.first)
		p.announced = true
	}
	return nil
}
