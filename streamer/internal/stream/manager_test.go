package stream

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertical-labs/firehose/common/logging"
	"github.com/vertical-labs/firehose/common/models"
	"github.com/vertical-labs/firehose/streamer/internal/backoff"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// pipeBody is a stream body that stays open until the test writes EOF or
// the manager closes it.
type pipeBody struct {
	r *io.PipeReader
	w *io.PipeWriter

	mu     sync.Mutex
	closed bool
}

func newPipeBody() *pipeBody {
	r, w := io.Pipe()
	return &pipeBody{r: r, w: w}
}

func (p *pipeBody) Read(b []byte) (int, error) { return p.r.Read(b) }

func (p *pipeBody) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return p.r.Close()
}

func (p *pipeBody) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *pipeBody) writeLine(s string) {
	_, _ = p.w.Write([]byte(s + "\n"))
}

type fakeUpstream struct {
	mu       sync.Mutex
	opens    int
	open     func(ctx context.Context, n int) (io.ReadCloser, error)
	rules    []string
	rulesErr error
}

func (f *fakeUpstream) Open(ctx context.Context) (io.ReadCloser, error) {
	f.mu.Lock()
	f.opens++
	n := f.opens
	f.mu.Unlock()
	return f.open(ctx, n)
}

func (f *fakeUpstream) ReplaceRules(_ context.Context, keywords string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rulesErr != nil {
		return f.rulesErr
	}
	f.rules = append(f.rules, keywords)
	return nil
}

func (f *fakeUpstream) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

type recordingBus struct {
	mu    sync.Mutex
	items []models.StreamItem
}

func (b *recordingBus) Publish(item models.StreamItem) {
	b.mu.Lock()
	b.items = append(b.items, item)
	b.mu.Unlock()
}

func (b *recordingBus) ids() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.items))
	for _, it := range b.items {
		out = append(out, it.Data.ID)
	}
	return out
}

type transitions struct {
	mu  sync.Mutex
	log []State
}

func (tr *transitions) record(_, to State) {
	tr.mu.Lock()
	tr.log = append(tr.log, to)
	tr.mu.Unlock()
}

func (tr *transitions) snapshot() []State {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]State(nil), tr.log...)
}

func newTestManager(up Upstream, bus Publisher, delay time.Duration, tr *transitions) *Manager {
	opts := Options{
		Policy: backoff.Fixed{Delay: delay},
		Logger: logging.Discard(),
	}
	if tr != nil {
		opts.OnStateChange = tr.record
	}
	return NewManager(up, bus, opts)
}

func line(id string) string {
	return `{"data":{"id":"` + id + `","message":"m","created_at":"2023-12-20T12:55:45.037Z"}}`
}

func TestManager_InitialStatus(t *testing.T) {
	m := newTestManager(&fakeUpstream{}, &recordingBus{}, time.Hour, nil)

	assert.Equal(t, Status{Connecting: false, Connected: false, State: "idle"}, m.Status())
}

func TestManager_StartConnectsAndPublishes(t *testing.T) {
	body := newPipeBody()
	up := &fakeUpstream{open: func(context.Context, int) (io.ReadCloser, error) { return body, nil }}
	bus := &recordingBus{}
	m := newTestManager(up, bus, time.Hour, nil)
	defer m.Close()

	require.True(t, m.Start())
	require.Eventually(t, func() bool { return m.Status().Connected }, waitFor, tick)

	body.writeLine(line("1"))
	body.writeLine("")
	body.writeLine("{not json")
	body.writeLine(line("2"))

	require.Eventually(t, func() bool { return len(bus.ids()) == 2 }, waitFor, tick)
	assert.Equal(t, []string{"1", "2"}, bus.ids())
	assert.False(t, m.Status().Connecting)
}

func TestManager_OversizedLineIsSkipped(t *testing.T) {
	body := newPipeBody()
	up := &fakeUpstream{open: func(context.Context, int) (io.ReadCloser, error) { return body, nil }}
	bus := &recordingBus{}
	m := NewManager(up, bus, Options{
		Policy:       backoff.Fixed{Delay: time.Hour},
		Logger:       logging.Discard(),
		MaxLineBytes: 256,
	})
	defer m.Close()

	require.True(t, m.Start())
	require.Eventually(t, func() bool { return m.Status().Connected }, waitFor, tick)

	go func() {
		body.writeLine(line("before"))
		body.writeLine(`{"data":{"id":"big","message":"` + strings.Repeat("x", 4096) + `"}}`)
		body.writeLine(line("after"))
	}()

	require.Eventually(t, func() bool { return len(bus.ids()) == 2 }, waitFor, tick)
	assert.Equal(t, []string{"before", "after"}, bus.ids())
	assert.Equal(t, 1, up.openCount())
	assert.False(t, body.isClosed())
	assert.True(t, m.Status().Connected)
}

func TestManager_PublishesOriginalLine(t *testing.T) {
	body := newPipeBody()
	up := &fakeUpstream{open: func(context.Context, int) (io.ReadCloser, error) { return body, nil }}
	bus := &recordingBus{}
	m := newTestManager(up, bus, time.Hour, nil)
	defer m.Close()

	require.True(t, m.Start())
	require.Eventually(t, func() bool { return m.Status().Connected }, waitFor, tick)

	raw := `{"data":{"id":"5","message":"m","created_at":"2023-12-20T12:55:45.037Z","author_id":"42"},"includes":{"places":[{"id":"p1"}]}}`
	body.writeLine(raw)

	require.Eventually(t, func() bool { return len(bus.ids()) == 1 }, waitFor, tick)
	bus.mu.Lock()
	item := bus.items[0]
	bus.mu.Unlock()

	encoded, err := item.Marshal()
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(encoded))
}

func TestReadLine(t *testing.T) {
	r := bufio.NewReaderSize(strings.NewReader("short\n"+strings.Repeat("y", 100)+"\nok\r\ntail"), 16)

	got, tooLong, err := readLine(r, 10, nil)
	require.NoError(t, err)
	assert.False(t, tooLong)
	assert.Equal(t, "short\n", string(got))

	_, tooLong, err = readLine(r, 10, nil)
	require.NoError(t, err)
	assert.True(t, tooLong)

	got, tooLong, err = readLine(r, 10, nil)
	require.NoError(t, err)
	assert.False(t, tooLong)
	assert.Equal(t, "ok\r\n", string(got))

	got, tooLong, err = readLine(r, 10, nil)
	assert.ErrorIs(t, err, io.EOF)
	assert.False(t, tooLong)
	assert.Equal(t, "tail", string(got))
}

func TestManager_DoubleStartMakesOneAttempt(t *testing.T) {
	release := make(chan struct{})
	body := newPipeBody()
	up := &fakeUpstream{open: func(context.Context, int) (io.ReadCloser, error) {
		<-release
		return body, nil
	}}
	m := newTestManager(up, &recordingBus{}, time.Hour, nil)
	defer m.Close()

	assert.True(t, m.Start())
	assert.False(t, m.Start())
	assert.Equal(t, Status{Connecting: true, Connected: false, State: "connecting"}, m.Status())

	close(release)
	require.Eventually(t, func() bool { return m.Status().Connected }, waitFor, tick)

	assert.False(t, m.Start())
	assert.Equal(t, 1, up.openCount())
}

func TestManager_ConcurrentStartMakesOneAttempt(t *testing.T) {
	body := newPipeBody()
	up := &fakeUpstream{open: func(context.Context, int) (io.ReadCloser, error) { return body, nil }}
	m := newTestManager(up, &recordingBus{}, time.Hour, nil)
	defer m.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Start()
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return m.Status().Connected }, waitFor, tick)
	assert.Equal(t, 1, up.openCount())
}

func TestManager_ReconnectsAfterStreamEnds(t *testing.T) {
	second := newPipeBody()
	up := &fakeUpstream{open: func(_ context.Context, n int) (io.ReadCloser, error) {
		if n == 1 {
			return io.NopCloser(strings.NewReader(line("1") + "\n")), nil
		}
		return second, nil
	}}
	bus := &recordingBus{}
	tr := &transitions{}
	m := newTestManager(up, bus, 20*time.Millisecond, tr)
	defer m.Close()

	m.Start()

	require.Eventually(t, func() bool { return up.openCount() == 2 && m.Status().Connected }, waitFor, tick)
	assert.Equal(t, []State{
		StateConnecting,
		StateConnected,
		StateDisconnected,
		StateConnecting,
		StateConnected,
	}, tr.snapshot())
	assert.Equal(t, []string{"1"}, bus.ids())
}

func TestManager_StreamEndSchedulesExactlyOneReconnect(t *testing.T) {
	up := &fakeUpstream{open: func(context.Context, int) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader("")), nil
	}}
	m := newTestManager(up, &recordingBus{}, time.Hour, nil)
	defer m.Close()

	m.Start()
	require.Eventually(t, func() bool { return m.State() == StateDisconnected }, waitFor, tick)

	m.mu.Lock()
	pending := m.timer != nil
	seq := m.timerSeq
	m.mu.Unlock()

	assert.True(t, pending)
	assert.Equal(t, uint64(1), seq)
	assert.Equal(t, 1, up.openCount())
}

func TestManager_FailedConnectRetries(t *testing.T) {
	body := newPipeBody()
	up := &fakeUpstream{open: func(_ context.Context, n int) (io.ReadCloser, error) {
		if n < 3 {
			return nil, errors.New("connection refused")
		}
		return body, nil
	}}
	m := newTestManager(up, &recordingBus{}, 10*time.Millisecond, nil)
	defer m.Close()

	m.Start()

	require.Eventually(t, func() bool { return m.Status().Connected }, waitFor, tick)
	assert.Equal(t, 3, up.openCount())

	m.mu.Lock()
	assert.Equal(t, 0, m.attempts)
	m.mu.Unlock()
}

func TestManager_StopClosesStreamWithoutReconnect(t *testing.T) {
	body := newPipeBody()
	up := &fakeUpstream{open: func(context.Context, int) (io.ReadCloser, error) { return body, nil }}
	m := newTestManager(up, &recordingBus{}, 10*time.Millisecond, nil)

	m.Start()
	require.Eventually(t, func() bool { return m.Status().Connected }, waitFor, tick)

	m.Stop()
	assert.True(t, body.isClosed())
	assert.Equal(t, Status{Connecting: false, Connected: false, State: "stopped"}, m.Status())

	m.Stop()
	assert.Equal(t, StateStopped, m.State())

	m.Close()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, up.openCount())
	assert.Equal(t, StateStopped, m.State())
}

func TestManager_StopDuringConnectDiscardsStream(t *testing.T) {
	release := make(chan struct{})
	late := newPipeBody()
	up := &fakeUpstream{open: func(context.Context, int) (io.ReadCloser, error) {
		<-release
		return late, nil
	}}
	m := newTestManager(up, &recordingBus{}, 10*time.Millisecond, nil)

	m.Start()
	require.Equal(t, StateConnecting, m.State())

	m.Stop()
	close(release)
	m.Close()

	assert.True(t, late.isClosed())
	assert.Equal(t, StateStopped, m.State())
	assert.Equal(t, 1, up.openCount())
}

func TestManager_StopCancelsPendingReconnect(t *testing.T) {
	up := &fakeUpstream{open: func(context.Context, int) (io.ReadCloser, error) {
		return nil, errors.New("unavailable")
	}}
	m := newTestManager(up, &recordingBus{}, 30*time.Millisecond, nil)

	m.Start()
	require.Eventually(t, func() bool { return m.State() == StateDisconnected }, waitFor, tick)

	m.Stop()
	m.Close()
	time.Sleep(80 * time.Millisecond)

	assert.Equal(t, 1, up.openCount())
	assert.Equal(t, StateStopped, m.State())
}

func TestManager_StartAfterStop(t *testing.T) {
	bodies := []*pipeBody{newPipeBody(), newPipeBody()}
	up := &fakeUpstream{open: func(_ context.Context, n int) (io.ReadCloser, error) { return bodies[n-1], nil }}
	m := newTestManager(up, &recordingBus{}, time.Hour, nil)
	defer m.Close()

	m.Start()
	require.Eventually(t, func() bool { return m.Status().Connected }, waitFor, tick)
	m.Stop()

	assert.True(t, m.Start())
	require.Eventually(t, func() bool { return m.Status().Connected }, waitFor, tick)
	assert.Equal(t, 2, up.openCount())
	assert.True(t, bodies[0].isClosed())
	assert.False(t, bodies[1].isClosed())
}

func TestManager_ManualStartSupersedesPendingReconnect(t *testing.T) {
	body := newPipeBody()
	up := &fakeUpstream{open: func(_ context.Context, n int) (io.ReadCloser, error) {
		if n == 1 {
			return nil, errors.New("unavailable")
		}
		return body, nil
	}}
	m := newTestManager(up, &recordingBus{}, time.Hour, nil)
	defer m.Close()

	m.Start()
	require.Eventually(t, func() bool { return m.State() == StateDisconnected }, waitFor, tick)

	assert.True(t, m.Start())
	require.Eventually(t, func() bool { return m.Status().Connected }, waitFor, tick)

	m.mu.Lock()
	assert.Nil(t, m.timer)
	m.mu.Unlock()
}

func TestManager_SetStreamKeywords(t *testing.T) {
	up := &fakeUpstream{}
	m := newTestManager(up, &recordingBus{}, time.Hour, nil)

	require.NoError(t, m.SetStreamKeywords(context.Background(), "cats OR dogs"))
	assert.Equal(t, []string{"cats OR dogs"}, up.rules)
	assert.Equal(t, StateIdle, m.State())

	up.rulesErr = &StatusError{Op: "replace rules", StatusCode: 400}
	err := m.SetStreamKeywords(context.Background(), "x")
	require.Error(t, err)

	var se *StatusError
	assert.True(t, errors.As(err, &se))
	assert.Equal(t, StateIdle, m.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "state(42)", State(42).String())
	assert.Len(t, StateNames, 5)
}
