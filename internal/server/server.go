// Package server accepts reliable and unreliable transfer sessions and
// advertises itself with periodic offers.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rudransh-shrivastava/netspeed/internal/discovery"
	"github.com/rudransh-shrivastava/netspeed/internal/protocol"
	"github.com/rudransh-shrivastava/netspeed/internal/session"
	"github.com/rudransh-shrivastava/netspeed/internal/transport"
	"golang.org/x/sync/errgroup"
)

type Server struct {
	config      Config
	logger      *slog.Logger
	transport   *transport.Transport
	broadcaster *discovery.Broadcaster

	sessions sync.WaitGroup
	nextID   atomic.Uint64
}

// New binds both listening sockets. Their ports stay fixed until Shutdown.
func New(cfg Config) (*Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Session.Logger = logger

	tr, err := transport.NewTransport(cfg.Transport)
	if err != nil {
		return nil, err
	}

	s := &Server{
		config:    cfg,
		logger:    logger,
		transport: tr,
	}

	if !cfg.DisableOffers {
		s.broadcaster, err = discovery.NewBroadcaster(discovery.BroadcasterConfig{
			Port:     cfg.DiscoveryPort,
			Targets:  cfg.BroadcastTargets,
			Interval: cfg.OfferInterval,
			Logger:   logger,
		}, s.Offer())
		if err != nil {
			_ = tr.Close()
			return nil, err
		}
	}

	return s, nil
}

func (s *Server) TCPPort() uint16 {
	return s.transport.TCPPort()
}

func (s *Server) UDPPort() uint16 {
	return s.transport.UDPPort()
}

// Offer is what the server advertises.
func (s *Server) Offer() protocol.Offer {
	return protocol.Offer{UDPPort: s.UDPPort(), TCPPort: s.TCPPort()}
}

func (s *Server) Shutdown() error {
	s.logger.Info("Shutting down server")
	if s.broadcaster != nil {
		_ = s.broadcaster.Close()
	}
	err := s.transport.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

// Start runs the offer broadcast and both accept loops until ctx is done
// or a listening socket fails, then waits for in-flight sessions.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Server started", "tcp_port", s.TCPPort(), "udp_port", s.UDPPort())

	g, gctx := errgroup.WithContext(ctx)
	if s.broadcaster != nil {
		g.Go(func() error { return s.broadcaster.Run(gctx) })
	}
	g.Go(func() error { return s.acceptReliable(gctx) })
	g.Go(func() error { return s.acceptUnreliable(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		return s.Shutdown()
	})

	err := g.Wait()
	s.sessions.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (s *Server) acceptReliable(ctx context.Context) error {
	for {
		conn, err := s.transport.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.logger.Error("Failed to accept connection", "error", err)
			continue
		}

		s.sessions.Add(1)
		go s.handleReliable(ctx, conn)
	}
}

func (s *Server) handleReliable(ctx context.Context, conn net.Conn) {
	defer s.sessions.Done()
	defer func() { _ = conn.Close() }()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	log := s.logger.With("session", s.nextID.Add(1), "kind", session.KindReliable.String(), "peer", conn.RemoteAddr().String())
	log.Debug("Session started")

	sent, err := session.ServeReliable(conn, s.config.Session)
	if err != nil {
		if errors.Is(err, session.ErrProtocolViolation) {
			log.Warn("Rejected request", "error", err)
			return
		}
		log.Debug("Session aborted", "sent", sent, "error", err)
		return
	}
	log.Debug("Session finished", "sent", sent)
}

func (s *Server) acceptUnreliable(ctx context.Context) error {
	packets := s.transport.Packets()
	buf := make([]byte, protocol.MaxDatagramSize)

	for {
		n, addr, err := packets.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.logger.Debug("Failed to read datagram", "error", err)
			continue
		}

		msg, err := protocol.Decode(buf[:n])
		if err != nil {
			s.logger.Debug("Ignored datagram", "peer", addr.String(), "error", err)
			continue
		}
		req, ok := msg.(protocol.Request)
		if !ok {
			s.logger.Debug("Ignored datagram", "peer", addr.String(), "type", msg.Type().String())
			continue
		}

		s.sessions.Add(1)
		go s.handleUnreliable(ctx, packets, addr, req.Size)
	}
}

func (s *Server) handleUnreliable(ctx context.Context, w session.PacketWriter, addr net.Addr, size uint64) {
	defer s.sessions.Done()

	log := s.logger.With("session", s.nextID.Add(1), "kind", session.KindUnreliable.String(), "peer", addr.String())
	log.Debug("Session started", "size", size)

	sent, err := session.ServeUnreliable(ctx, w, addr, size, s.config.Session)
	if err != nil {
		log.Debug("Session aborted", "segments", sent, "error", err)
		return
	}
	log.Debug("Session finished", "segments", sent)
}
