// Package client runs a speed test against one server: it discovers the
// server and drives concurrent reliable and unreliable sessions.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rudransh-shrivastava/netspeed/internal/discovery"
	"github.com/rudransh-shrivastava/netspeed/internal/protocol"
	"github.com/rudransh-shrivastava/netspeed/internal/session"
	"github.com/rudransh-shrivastava/netspeed/internal/store"
)

var (
	ErrZeroSize     = errors.New("payload size must be greater than zero")
	ErrNoSessions   = errors.New("at least one session is required")
	ErrSizeTooLarge = errors.New("payload size too large")
)

// MaxSize is the largest payload one session can request.
const MaxSize = math.MaxInt64

// Plan is one speed test: Reliable TCP sessions and Unreliable UDP
// sessions, each requesting Size bytes.
type Plan struct {
	Size       uint64
	Reliable   int
	Unreliable int
}

func (p Plan) Validate() error {
	if p.Size == 0 {
		return ErrZeroSize
	}
	if p.Size > MaxSize {
		return fmt.Errorf("%w: %d bytes, at most %d", ErrSizeTooLarge, p.Size, uint64(MaxSize))
	}
	if p.Reliable < 0 || p.Unreliable < 0 {
		return fmt.Errorf("negative session count: %d reliable, %d unreliable", p.Reliable, p.Unreliable)
	}
	if p.Reliable+p.Unreliable == 0 {
		return ErrNoSessions
	}
	return nil
}

func (p Plan) Sessions() int {
	return p.Reliable + p.Unreliable
}

type Config struct {
	Session   session.Config
	Discovery discovery.ListenerConfig

	// DiscoverWindow keeps listening after the first offer to log other
	// servers. Zero returns on the first offer.
	DiscoverWindow time.Duration

	// History, when set, records every discovered server.
	History store.ServerRepository

	Logger *slog.Logger
}

func DefaultConfig() Config {
	return Config{
		Session:   session.DefaultConfig(),
		Discovery: discovery.DefaultListenerConfig(),
		Logger:    slog.Default(),
	}
}

type Client struct {
	config Config
	logger *slog.Logger
}

func New(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Session.Logger = logger
	cfg.Discovery.Logger = logger

	return &Client{
		config: cfg,
		logger: logger,
	}
}

// Discover blocks until a server offer arrives. With a discovery window
// the first server seen is returned along with all others found.
func (c *Client) Discover(ctx context.Context) (protocol.Endpoint, []protocol.Endpoint, error) {
	l, err := discovery.Listen(ctx, c.config.Discovery)
	if err != nil {
		return protocol.Endpoint{}, nil, err
	}
	defer func() { _ = l.Close() }()

	c.logger.Info("Listening for offers", "port", l.Port())

	if c.config.DiscoverWindow <= 0 {
		ep, err := l.Wait(ctx)
		if err != nil {
			return protocol.Endpoint{}, nil, err
		}
		c.logger.Info("Received offer", "server", ep.String())
		c.record(ctx, ep)
		return ep, []protocol.Endpoint{ep}, nil
	}

	found, err := l.Collect(ctx, c.config.DiscoverWindow)
	if err != nil {
		return protocol.Endpoint{}, nil, err
	}
	for _, ep := range found[1:] {
		c.logger.Info("Ignoring additional server", "server", ep.String())
	}
	c.record(ctx, found...)
	c.logger.Info("Received offer", "server", found[0].String(), "servers", len(found))
	return found[0], found, nil
}

func (c *Client) record(ctx context.Context, eps ...protocol.Endpoint) {
	if c.config.History == nil {
		return
	}
	now := time.Now()
	for _, ep := range eps {
		if err := c.config.History.RecordOffer(ctx, ep, now); err != nil {
			c.logger.Warn("Failed to record server", "server", ep.String(), "error", err)
			continue
		}
		known, err := c.config.History.GetServer(ctx, ep)
		if err != nil {
			c.logger.Warn("Failed to read recorded server", "server", ep.String(), "error", err)
			continue
		}
		c.logger.Debug("Recorded server", "server", ep.String(), "offers", known.Offers,
			"first_seen", time.Unix(known.FirstSeen, 0).Format(time.RFC3339))
	}
}

// Run launches every session of plan concurrently against ep and waits for
// all of them. Each session yields exactly one Result, passed to sink as it
// completes; calls to sink are serialized. A failed session does not stop
// the others. Results are returned ordered by ID.
func (c *Client) Run(ctx context.Context, ep protocol.Endpoint, plan Plan, sink func(session.Result)) ([]session.Result, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	log := c.logger.With("run", runID)
	log.Info("Starting speed test",
		"server", ep.String(),
		"size", plan.Size,
		"reliable", plan.Reliable,
		"unreliable", plan.Unreliable,
	)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make([]session.Result, 0, plan.Sessions())
	)

	launch := func(id int, kind session.Kind) {
		defer wg.Done()

		var res session.Result
		switch kind {
		case session.KindReliable:
			res = session.RunReliable(ctx, ep.TCPAddr(), plan.Size, c.config.Session)
		default:
			res = session.RunUnreliable(ctx, ep.UDPAddr(), plan.Size, c.config.Session)
		}
		res.ID = id
		res.RunID = runID

		if res.Err != nil {
			log.Debug("Session failed", "session", id, "kind", kind.String(), "error", res.Err)
		}

		mu.Lock()
		defer mu.Unlock()
		results = append(results, res)
		if sink != nil {
			sink(res)
		}
	}

	id := 0
	for i := 0; i < plan.Reliable; i++ {
		id++
		wg.Add(1)
		go launch(id, session.KindReliable)
	}
	for i := 0; i < plan.Unreliable; i++ {
		id++
		wg.Add(1)
		go launch(id, session.KindUnreliable)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	return results, nil
}
