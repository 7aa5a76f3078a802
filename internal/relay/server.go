package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/postalsys/wg-relay/internal/logging"
	"github.com/postalsys/wg-relay/internal/metrics"
	"github.com/postalsys/wg-relay/internal/routing"
)

// Stats contains relay counters.
type Stats struct {
	Workers          int    `json:"workers"`
	WorkersRunning   int    `json:"workers_running"`
	Sessions         int    `json:"sessions"`
	PacketsReceived  uint64 `json:"packets_received"`
	PacketsForwarded uint64 `json:"packets_forwarded"`
	PacketsDropped   uint64 `json:"packets_dropped"`
	BytesReceived    uint64 `json:"bytes_received"`
	BytesForwarded   uint64 `json:"bytes_forwarded"`
}

// Server owns the relay socket and the session table and runs the workers.
type Server struct {
	cfg    Config
	conn   PacketConn
	target netip.AddrPort
	table  routing.Table

	logger  *slog.Logger
	metrics *metrics.Metrics

	counters       counters
	workersRunning atomic.Int32
	running        atomic.Bool
	closing        atomic.Bool
	closeOnce      sync.Once
	closeErr       error
	startedAt      time.Time
}

// NewServer resolves the target and binds the relay socket.
// A nil metrics instance gets a private registry.
func NewServer(cfg Config, logger *slog.Logger, m *metrics.Metrics) (*Server, error) {
	if err := validate(&cfg); err != nil {
		return nil, err
	}

	target, err := ResolveTarget(cfg.Target)
	if err != nil {
		return nil, err
	}

	conn, err := Listen(context.Background(), cfg)
	if err != nil {
		return nil, err
	}

	return newServer(cfg, conn, target, logger, m), nil
}

// NewServerWithConn creates a server over an already bound socket.
func NewServerWithConn(cfg Config, conn PacketConn, target netip.AddrPort, logger *slog.Logger, m *metrics.Metrics) (*Server, error) {
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	if !target.IsValid() {
		return nil, ErrNoTarget
	}
	return newServer(cfg, conn, routing.Normalize(target), logger, m), nil
}

func validate(cfg *Config) error {
	if cfg.Workers < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidWorkers, cfg.Workers)
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.SessionValidTime <= 0 {
		cfg.SessionValidTime = routing.DefaultSessionValidTime
	}
	return nil
}

func newServer(cfg Config, conn PacketConn, target netip.AddrPort, logger *slog.Logger, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if m == nil {
		m = metrics.NewMetricsWithRegistry(prometheus.NewRegistry())
	}

	return &Server{
		cfg:     cfg,
		conn:    conn,
		target:  target,
		table:   routing.NewTable(cfg.concurrentTable(), cfg.SessionValidTime),
		logger:  logger.With(logging.KeyComponent, "relay"),
		metrics: m,
	}
}

// Run starts the workers and blocks until they have all stopped.
//
// With one worker, the worker runs on the calling goroutine and its failure
// is returned as soon as it happens. With several, Run waits for every
// worker and returns the first failure. Cancelling ctx closes the socket;
// the resulting receive errors are not reported.
func (s *Server) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.running.Store(false)

	stop := context.AfterFunc(ctx, func() {
		s.Close()
	})
	defer stop()

	s.startedAt = time.Now()
	s.logger.Info("relay started",
		logging.KeyLocalAddr, s.conn.LocalAddr().String(),
		logging.KeyTarget, s.target,
		logging.KeyCount, s.cfg.Workers)

	var err error
	if s.cfg.Workers == 1 {
		err = s.runWorker(0)
	} else {
		err = s.runWorkers()
	}

	stats := s.Stats()
	s.logger.Info("relay stopped",
		"forwarded", stats.PacketsForwarded,
		"dropped", stats.PacketsDropped,
		logging.KeyBytes, humanize.IBytes(stats.BytesForwarded),
		logging.KeyDuration, time.Since(s.startedAt).Round(time.Second))

	return err
}

func (s *Server) runWorkers() error {
	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)

	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if err := s.runWorker(id); err != nil {
				errOnce.Do(func() { firstErr = err })
			}
		}(i)
	}

	wg.Wait()
	return firstErr
}

// runWorker runs one worker and maps a shutdown-induced failure to nil.
func (s *Server) runWorker(id int) error {
	s.workersRunning.Add(1)
	s.metrics.RecordWorkerStart()

	err := newWorker(id, s).Run()
	if s.closing.Load() && errors.Is(err, net.ErrClosed) {
		err = nil
	}

	s.workersRunning.Add(-1)
	s.metrics.RecordWorkerStop(errorType(err))

	if err != nil {
		s.logger.Error("relay worker failed",
			logging.KeyWorker, id,
			logging.KeyError, err)
	}
	return err
}

// Close closes the socket, which stops every worker.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

// LocalAddr returns the socket's bound address.
func (s *Server) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// Target returns the resolved target address.
func (s *Server) Target() netip.AddrPort {
	return s.target
}

// IsRunning returns true while Run is active.
func (s *Server) IsRunning() bool {
	return s.running.Load()
}

// Stats returns a snapshot of the relay counters.
func (s *Server) Stats() Stats {
	stats := Stats{
		Workers:          s.cfg.Workers,
		WorkersRunning:   int(s.workersRunning.Load()),
		PacketsReceived:  s.counters.received.Load(),
		PacketsForwarded: s.counters.forwarded.Load(),
		PacketsDropped:   s.counters.dropped.Load(),
		BytesReceived:    s.counters.bytesReceived.Load(),
		BytesForwarded:   s.counters.bytesForwarded.Load(),
	}
	if s.cfg.concurrentTable() {
		stats.Sessions = s.table.Len()
	}
	return stats
}

// Sessions returns a copy of the session table. It returns nil when the
// table is owned by a single unlocked worker; set Config.ExposeSessions to
// read it from other goroutines.
func (s *Server) Sessions() []routing.Session {
	if !s.cfg.concurrentTable() {
		return nil
	}
	return s.table.Snapshot()
}
