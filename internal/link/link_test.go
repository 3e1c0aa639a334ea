package link

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakePort is an in-memory serial peer: tests feed it inbound lines and
// inspect what the link wrote.
type fakePort struct {
	mu        sync.Mutex
	written   bytes.Buffer
	incoming  chan []byte
	pending   []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakePort() *fakePort {
	return &fakePort{
		incoming: make(chan []byte, 16),
		closed:   make(chan struct{}),
	}
}

func (p *fakePort) feed(line string) {
	p.incoming <- []byte(line)
}

func (p *fakePort) Read(b []byte) (int, error) {
	if len(p.pending) == 0 {
		select {
		case data := <-p.incoming:
			p.pending = data
		case <-p.closed:
			return 0, io.EOF
		}
	}
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.Write(b)
}

func (p *fakePort) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

func (p *fakePort) writtenString() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

func testConfig() Config {
	return Config{
		ReadTimeout:  200 * time.Millisecond,
		ReadyTimeout: 100 * time.Millisecond,
		WriteTimeout: 200 * time.Millisecond,
		GateDwell:    10 * time.Millisecond,
	}
}

func newTestLink(t *testing.T) (*Link, *fakePort) {
	t.Helper()
	port := newFakePort()
	l := New(port, testConfig(), zap.NewNop())
	t.Cleanup(func() { _ = l.Close() })
	return l, port
}

// feedAfter delivers peer lines once the exchange under test is already
// waiting, so they arrive after the pre-exchange drain.
func feedAfter(port *fakePort, lines ...string) {
	go func() {
		time.Sleep(20 * time.Millisecond)
		for _, line := range lines {
			port.feed(line)
		}
	}()
}

func TestReadTagConfirmed(t *testing.T) {
	l, port := newTestLink(t)

	feedAfter(port, "[reader] card detected\n", "RAABC123D, 4000\n", "READY\n")

	tag, err := l.ReadTag(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "RAABC123D", tag.Plate)
	assert.Equal(t, int64(4000), tag.Balance)
}

func TestReadTagWithoutReadyIsNoRead(t *testing.T) {
	l, port := newTestLink(t)

	feedAfter(port, "RAABC123D,4000\n")

	_, err := l.ReadTag(context.Background())
	assert.ErrorIs(t, err, ErrNoTag)
}

func TestReadTagTimesOutOnSilence(t *testing.T) {
	l, _ := newTestLink(t)

	start := time.Now()
	_, err := l.ReadTag(context.Background())
	assert.ErrorIs(t, err, ErrNoTag)
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
}

func TestReadTagSkipsGarbageLines(t *testing.T) {
	l, port := newTestLink(t)

	feedAfter(port,
		"not a tag line\n",
		"a,b,c\n",
		"RAABC123D,-5\n",
		"RAABC123D,1500\n",
		"READY\n",
	)

	tag, err := l.ReadTag(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1500), tag.Balance)
}

func TestReadTagStripsLineNoiseFromBalance(t *testing.T) {
	l, port := newTestLink(t)

	feedAfter(port, "RAABC123D,\x0240\x0300\n", "READY\n")

	tag, err := l.ReadTag(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4000), tag.Balance)
}

func TestWriteBalanceConfirmed(t *testing.T) {
	l, port := newTestLink(t)

	feedAfter(port, "[writer] UPDATED\n")

	err := l.WriteBalance(context.Background(), 3500)
	require.NoError(t, err)
	assert.Equal(t, "3500\n", port.writtenString())
}

func TestWriteBalanceFailureResponses(t *testing.T) {
	tests := []struct {
		response string
		want     error
	}{
		{"[writer] DENIED\n", ErrWriteDenied},
		{"[writer] TIMEOUT\n", ErrPeerTimeout},
		{"[writer] ERROR\n", ErrWriteFailed},
	}
	for _, tt := range tests {
		t.Run(tt.response, func(t *testing.T) {
			l, port := newTestLink(t)
			feedAfter(port, tt.response)
			err := l.WriteBalance(context.Background(), 100)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestWriteBalanceSilenceTimesOut(t *testing.T) {
	l, _ := newTestLink(t)

	err := l.WriteBalance(context.Background(), 100)
	assert.ErrorIs(t, err, ErrWriteTimeout)
}

func TestWriteBalanceDiscardsStaleLines(t *testing.T) {
	l, port := newTestLink(t)

	// A leftover confirmation from a previous exchange must not be taken as
	// the answer to a new write.
	port.feed("UPDATED\n")
	time.Sleep(20 * time.Millisecond)

	err := l.WriteBalance(context.Background(), 100)
	assert.ErrorIs(t, err, ErrWriteTimeout)
}

func TestPulseGateOpensThenCloses(t *testing.T) {
	l, port := newTestLink(t)

	err := l.PulseGate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "10", port.writtenString())
}

func TestPulseGateClosesOnCancel(t *testing.T) {
	port := newFakePort()
	l := New(port, Config{GateDwell: time.Hour, ReadTimeout: time.Second, ReadyTimeout: time.Second, WriteTimeout: time.Second}, zap.NewNop())
	t.Cleanup(func() { _ = l.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := l.PulseGate(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "10", port.writtenString())
}

func TestSignalInsufficient(t *testing.T) {
	l, port := newTestLink(t)

	require.NoError(t, l.SignalInsufficient())
	assert.Equal(t, "I\n", port.writtenString())
}

func TestAlarm(t *testing.T) {
	l, port := newTestLink(t)

	require.NoError(t, l.Alarm())
	assert.Equal(t, "2", port.writtenString())
}
