package relay

import (
	"fmt"
	"log/slog"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/postalsys/wg-relay/internal/logging"
	"github.com/postalsys/wg-relay/internal/metrics"
	"github.com/postalsys/wg-relay/internal/protocol"
	"github.com/postalsys/wg-relay/internal/recovery"
	"github.com/postalsys/wg-relay/internal/routing"
)

// dropLogInterval bounds how often a worker logs dropped datagrams.
const dropLogInterval = 5 * time.Second

// counters are the relay-wide totals shared by all workers.
type counters struct {
	received       atomic.Uint64
	forwarded      atomic.Uint64
	dropped        atomic.Uint64
	bytesReceived  atomic.Uint64
	bytesForwarded atomic.Uint64
}

// Worker is one receive/classify/route/send loop over the shared socket.
type Worker struct {
	id         int
	conn       PacketConn
	table      routing.Table
	target     netip.AddrPort
	bufferSize int

	logger   *slog.Logger
	metrics  *metrics.Metrics
	counters *counters
	dropLog  *logging.Sampler

	// now is swapped in tests
	now func() time.Time
}

func newWorker(id int, s *Server) *Worker {
	return &Worker{
		id:         id,
		conn:       s.conn,
		table:      s.table,
		target:     s.target,
		bufferSize: s.cfg.BufferSize,
		logger:     s.logger.With(logging.KeyWorker, id),
		metrics:    s.metrics,
		counters:   &s.counters,
		dropLog:    logging.NewSampler(dropLogInterval),
		now:        time.Now,
	}
}

// Run receives and forwards datagrams until the socket fails. It only
// returns with an error; a closed socket surfaces as net.ErrClosed.
func (w *Worker) Run() (err error) {
	defer recovery.RecoverToError(w.logger, fmt.Sprintf("relay-worker-%d", w.id), &err)

	buf := make([]byte, w.bufferSize)
	for {
		n, src, err := w.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			return fmt.Errorf("worker %d: receive: %w", w.id, err)
		}

		if err := w.handle(buf[:n], src); err != nil {
			return fmt.Errorf("worker %d: %w", w.id, err)
		}
	}
}

// handle routes a single datagram. Drops are not errors; only a failed or
// short send is.
func (w *Worker) handle(pkt []byte, src netip.AddrPort) error {
	src = routing.Normalize(src)

	w.counters.received.Add(1)
	w.counters.bytesReceived.Add(uint64(len(pkt)))

	msg, ok := protocol.Classify(pkt)
	if !ok {
		w.metrics.RecordReceived(protocol.MessageType(0).String(), len(pkt))
		w.drop(routing.DropUnparseable, src, protocol.Message{}, len(pkt))
		return nil
	}
	w.metrics.RecordReceived(msg.Type.String(), len(pkt))

	d := routing.Route(msg, src, w.target, w.table, w.now())
	if d.Upserted {
		w.metrics.RecordUpsert(d.Evicted, w.table.Len())
		w.logger.Debug("session bound",
			logging.KeyIndex, msg.Sender,
			logging.KeySource, src,
			"evicted", d.Evicted)
	}
	if !d.Forward() {
		w.drop(d.Reason, src, msg, len(pkt))
		return nil
	}

	sent, err := w.conn.WriteToUDPAddrPort(pkt, d.Dest)
	if err != nil {
		return fmt.Errorf("send to %s: %w", d.Dest, err)
	}
	if sent != len(pkt) {
		return &ShortWriteError{Dest: d.Dest, Sent: sent, Want: len(pkt)}
	}

	direction := metrics.DirectionToTarget
	if src == w.target {
		direction = metrics.DirectionToPeer
	}
	w.metrics.RecordForwarded(direction, sent)
	w.counters.forwarded.Add(1)
	w.counters.bytesForwarded.Add(uint64(sent))

	return nil
}

func (w *Worker) drop(reason routing.DropReason, src netip.AddrPort, msg protocol.Message, size int) {
	w.metrics.RecordDropped(reason.String())
	w.counters.dropped.Add(1)

	w.dropLog.Do(func() {
		w.logger.Debug("datagram dropped",
			logging.KeyReason, reason.String(),
			logging.KeySource, src,
			logging.KeyMessageType, msg.Type.String(),
			logging.KeyBytes, size)
	})
}
