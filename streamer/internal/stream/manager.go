// Package stream owns the single upstream connection: it connects, reads
// line-delimited records onto the event bus, and reconnects on its own after
// the stream drops.
package stream

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/vertical-labs/firehose/common/logging"
	"github.com/vertical-labs/firehose/common/models"
	"github.com/vertical-labs/firehose/streamer/internal/backoff"
	"github.com/vertical-labs/firehose/streamer/internal/metrics"
)

// State of the upstream connection.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// StateNames lists every state label.
var StateNames = []string{"idle", "connecting", "connected", "disconnected", "stopped"}

// Status is a point-in-time view of the connection. Connecting and
// Connected are never both true.
type Status struct {
	Connecting bool   `json:"connecting"`
	Connected  bool   `json:"connected"`
	State      string `json:"state"`
}

// Publisher receives parsed records.
type Publisher interface {
	Publish(item models.StreamItem)
}

// DefaultMaxLineBytes bounds a single upstream line.
const DefaultMaxLineBytes = 1 << 20

// Options tunes a Manager.
type Options struct {
	Policy       backoff.Policy
	Logger       *slog.Logger
	MaxLineBytes int

	// OnStateChange runs under the manager lock on every transition. It must
	// not call back into the Manager.
	OnStateChange func(from, to State)
}

// Manager drives the upstream connection state machine. At most one stream
// is open and at most one reconnect is pending at any time.
type Manager struct {
	upstream Upstream
	bus      Publisher
	policy   backoff.Policy
	logger   *slog.Logger
	maxLine  int
	onState  func(from, to State)

	mu       sync.Mutex
	state    State
	gen      uint64 // bumped by Stop; attempts from an older gen discard their results
	attempts int    // consecutive failures, feeds the backoff policy
	cancel   context.CancelFunc
	body     io.ReadCloser
	timer    *time.Timer
	timerSeq uint64

	wg sync.WaitGroup
}

// NewManager creates an idle manager.
func NewManager(upstream Upstream, bus Publisher, opts Options) *Manager {
	if opts.Policy == nil {
		opts.Policy = backoff.Fixed{Delay: backoff.DefaultDelay}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxLineBytes <= 0 {
		opts.MaxLineBytes = DefaultMaxLineBytes
	}
	return &Manager{
		upstream: upstream,
		bus:      bus,
		policy:   opts.Policy,
		logger:   opts.Logger.With(slog.String(logging.FieldComponent, "stream")),
		maxLine:  opts.MaxLineBytes,
		onState:  opts.OnStateChange,
		state:    StateIdle,
	}
}

// Start begins connecting unless a connection is already in progress or
// established. It returns without waiting for the connection; it reports
// whether a new attempt was started.
func (m *Manager) Start() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startLocked()
}

func (m *Manager) startLocked() bool {
	if m.state == StateConnecting || m.state == StateConnected {
		m.logger.Info("stream already active, ignoring start", logging.State(m.state.String()))
		return false
	}

	m.stopTimerLocked()
	m.setStateLocked(StateConnecting)

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	gen := m.gen

	m.wg.Add(1)
	go m.run(ctx, cancel, gen)
	return true
}

// run performs one connection attempt and, on success, reads until the
// stream ends.
func (m *Manager) run(ctx context.Context, cancel context.CancelFunc, gen uint64) {
	defer m.wg.Done()
	defer cancel()

	m.logger.Info("connecting to stream")
	body, err := m.upstream.Open(ctx)

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		if body != nil {
			_ = body.Close()
		}
		m.logger.Info("stop requested during connect, discarding stream")
		return
	}
	if err != nil {
		metrics.ConnectionAttempts.WithLabelValues("failure").Inc()
		m.logger.Warn("error connecting to stream", logging.Error(err))
		m.cancel = nil
		m.setStateLocked(StateDisconnected)
		m.scheduleReconnectLocked(gen)
		m.mu.Unlock()
		return
	}
	metrics.ConnectionAttempts.WithLabelValues("success").Inc()
	m.body = body
	m.attempts = 0
	m.setStateLocked(StateConnected)
	m.mu.Unlock()

	m.logger.Info("connected to stream")
	readErr := m.readLoop(body)
	_ = body.Close()

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return
	}
	metrics.Disconnects.Inc()
	if readErr != nil {
		m.logger.Warn("stream read failed", logging.Error(readErr))
	} else {
		m.logger.Info("stream ended")
	}
	m.body = nil
	m.cancel = nil
	m.setStateLocked(StateDisconnected)
	m.scheduleReconnectLocked(gen)
}

// readBufferSize is the initial read buffer, capped at the line limit.
const readBufferSize = 64 * 1024

// readLoop publishes records until the body ends. Unparseable and oversized
// lines are skipped; only transport errors end the loop.
func (m *Manager) readLoop(body io.Reader) error {
	r := bufio.NewReaderSize(body, min(readBufferSize, m.maxLine))
	var buf []byte
	for {
		line, tooLong, err := readLine(r, m.maxLine, buf[:0])
		buf = line
		if tooLong {
			metrics.ParseErrors.Inc()
			m.logger.Warn("skipping oversized stream line", slog.Int("max_line_bytes", m.maxLine))
		} else {
			m.handleLine(line)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

func (m *Manager) handleLine(raw []byte) {
	line := bytes.TrimSpace(raw)
	if len(line) == 0 {
		// keep-alive
		return
	}

	item, err := models.ParseStreamItem(line)
	if err != nil {
		metrics.ParseErrors.Inc()
		m.logger.Warn("skipping unparseable stream line", logging.Error(err))
		return
	}

	metrics.RecordsReceived.Inc()
	m.bus.Publish(item)
}

// readLine reads up to the next newline into buf. A line longer than maxLine
// is consumed without being kept and reported as tooLong.
func readLine(r *bufio.Reader, maxLine int, buf []byte) ([]byte, bool, error) {
	tooLong := false
	for {
		chunk, err := r.ReadSlice('\n')
		if !tooLong {
			// +1 leaves room for the terminator
			if len(buf)+len(chunk) > maxLine+1 {
				tooLong = true
				buf = buf[:0]
			} else {
				buf = append(buf, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if !tooLong && len(bytes.TrimRight(buf, "\r\n")) > maxLine {
			tooLong = true
			buf = buf[:0]
		}
		return buf, tooLong, err
	}
}

func (m *Manager) scheduleReconnectLocked(gen uint64) {
	if m.timer != nil {
		return
	}

	delay := m.policy.Next(m.attempts)
	m.attempts++
	m.timerSeq++
	seq := m.timerSeq

	m.logger.Info("scheduling reconnect", logging.Attempt(m.attempts), logging.RetryDelay(delay))
	m.timer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if gen != m.gen || seq != m.timerSeq || m.timer == nil {
			return
		}
		m.timer = nil
		m.startLocked()
	})
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// Stop closes any open stream, abandons an in-flight attempt and cancels a
// pending reconnect. Calling it again is harmless.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.gen++
	m.stopTimerLocked()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.body != nil {
		_ = m.body.Close()
		m.body = nil
	}
	m.attempts = 0

	if m.state != StateStopped {
		m.logger.Info("stopping stream")
		m.setStateLocked(StateStopped)
	}
}

// Close stops the manager and waits for background work to finish.
func (m *Manager) Close() {
	m.Stop()
	m.wg.Wait()
}

// SetStreamKeywords replaces the upstream filter rules. It does not touch
// the connection state.
func (m *Manager) SetStreamKeywords(ctx context.Context, keywords string) error {
	if err := m.upstream.ReplaceRules(ctx, keywords); err != nil {
		metrics.RuleUpdates.WithLabelValues("failure").Inc()
		return fmt.Errorf("set stream keywords: %w", err)
	}
	metrics.RuleUpdates.WithLabelValues("success").Inc()
	m.logger.Info("stream keywords updated", logging.Keywords(keywords))
	return nil
}

// Status returns a snapshot of the connection state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Connecting: m.state == StateConnecting,
		Connected:  m.state == StateConnected,
		State:      m.state.String(),
	}
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setStateLocked(to State) {
	from := m.state
	if from == to {
		return
	}
	m.state = to
	metrics.SetConnectionState(to.String(), StateNames)
	m.logger.Debug("stream state changed",
		slog.String("from", from.String()), logging.State(to.String()))
	if m.onState != nil {
		m.onState(from, to)
	}
}
