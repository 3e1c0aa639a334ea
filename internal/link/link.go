// Package link speaks the half-duplex, line-oriented protocol of the gate and
// RFID microcontroller over a serial channel. Every operation is fail-fast
// with an explicit bounded timeout; the link never retries on its own, since
// retry and compensation policy belong to the settlement engine.
package link

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Port is the raw byte channel to the microcontroller peer.
type Port interface {
	io.ReadWriteCloser
}

// Single-byte gate commands understood by the peer.
const (
	cmdGateOpen  byte = '1'
	cmdGateClose byte = '0'
	cmdAlarm     byte = '2'
)

// insufficientLine tells the peer to display an insufficient-balance notice.
const insufficientLine = "I\n"

const readyAck = "READY"

// Link operation failures. ErrNoTag covers both an absent tag and a tag line
// that was never confirmed with READY.
var (
	ErrNoTag        = errors.New("link: no tag read")
	ErrWriteTimeout = errors.New("link: no response to balance write")
	ErrWriteDenied  = errors.New("link: balance write denied")
	ErrPeerTimeout  = errors.New("link: peer reported timeout")
	ErrWriteFailed  = errors.New("link: peer reported write error")
	ErrClosed       = errors.New("link: closed")
)

// Tag is the (plate, balance) pair stored on a physical RFID tag.
type Tag struct {
	Plate   string
	Balance int64
}

// Config bounds the link's waits.
type Config struct {
	// ReadTimeout bounds the wait for a plate,balance line.
	ReadTimeout time.Duration
	// ReadyTimeout bounds the wait for the READY acknowledgment after tag data.
	ReadyTimeout time.Duration
	// WriteTimeout bounds the wait for a balance-write response.
	WriteTimeout time.Duration
	// GateDwell is how long the gate stays open between open and close.
	GateDwell time.Duration
}

func (c *Config) applyDefaults() {
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 5 * time.Second
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = 2 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.GateDwell <= 0 {
		c.GateDwell = 15 * time.Second
	}
}

// Link owns one serial peer. A background scanner feeds incoming lines into a
// channel so bounded waits are plain selects, never sleep-polling. The link is
// exclusively owned by whichever flow currently runs; it does no locking of
// its own.
type Link struct {
	port      Port
	cfg       Config
	lines     chan string
	logger    *zap.Logger
	closeOnce sync.Once
}

// New wraps a port and starts the line scanner.
func New(port Port, cfg Config, logger *zap.Logger) *Link {
	cfg.applyDefaults()
	l := &Link{
		port:   port,
		cfg:    cfg,
		lines:  make(chan string, 64),
		logger: logger,
	}
	go l.scan()
	return l
}

func (l *Link) scan() {
	defer close(l.lines)
	scanner := bufio.NewScanner(l.port)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		l.lines <- line
	}
	if err := scanner.Err(); err != nil && l.logger != nil {
		l.logger.Debug("link scanner stopped", zap.Error(err))
	}
}

// Close shuts the underlying port; pending waits fail with ErrClosed.
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		err = l.port.Close()
	})
	return err
}

// drain discards lines buffered before an exchange starts, the equivalent of
// resetting the peer's input buffer.
func (l *Link) drain() {
	for {
		select {
		case _, ok := <-l.lines:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// ReadTag waits for a tag presentation: a plate,balance line followed by a
// READY acknowledgment. A data line without the acknowledgment is treated as
// no read at all. Malformed lines are skipped until the deadline.
func (l *Link) ReadTag(ctx context.Context) (Tag, error) {
	l.drain()

	deadline := time.NewTimer(l.cfg.ReadTimeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return Tag{}, ctx.Err()
		case <-deadline.C:
			return Tag{}, ErrNoTag
		case line, ok := <-l.lines:
			if !ok {
				return Tag{}, ErrClosed
			}
			tag, parsed := parseTagLine(line)
			if !parsed {
				continue
			}
			if !l.awaitReady(ctx) {
				return Tag{}, ErrNoTag
			}
			return tag, nil
		}
	}
}

func (l *Link) awaitReady(ctx context.Context) bool {
	deadline := time.NewTimer(l.cfg.ReadyTimeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case line, ok := <-l.lines:
			if !ok {
				return false
			}
			if line == readyAck {
				return true
			}
		}
	}
}

// WriteBalance sends the new balance and waits for one of the peer's terminal
// responses. Anything other than UPDATED is a write failure; so is silence.
func (l *Link) WriteBalance(ctx context.Context, balance int64) error {
	l.drain()

	if _, err := fmt.Fprintf(l.port, "%d\n", balance); err != nil {
		return fmt.Errorf("link: send balance: %w", err)
	}

	deadline := time.NewTimer(l.cfg.WriteTimeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return ErrWriteTimeout
		case line, ok := <-l.lines:
			if !ok {
				return ErrClosed
			}
			switch {
			case strings.Contains(line, "UPDATED"):
				return nil
			case strings.Contains(line, "DENIED"):
				return ErrWriteDenied
			case strings.Contains(line, "TIMEOUT"):
				return ErrPeerTimeout
			case strings.Contains(line, "ERROR"):
				return ErrWriteFailed
			}
		}
	}
}

// GateOpen raises the barrier. Fire-and-forget.
func (l *Link) GateOpen() error {
	return l.sendByte(cmdGateOpen)
}

// GateClose lowers the barrier. Fire-and-forget.
func (l *Link) GateClose() error {
	return l.sendByte(cmdGateClose)
}

// Alarm triggers the warning buzzer. Fire-and-forget.
func (l *Link) Alarm() error {
	return l.sendByte(cmdAlarm)
}

// SignalInsufficient tells the peer a settlement was declined for balance.
func (l *Link) SignalInsufficient() error {
	if _, err := io.WriteString(l.port, insufficientLine); err != nil {
		return fmt.Errorf("link: signal insufficient: %w", err)
	}
	return nil
}

// PulseGate opens the gate, blocks for the dwell so the vehicle can traverse,
// then closes it. The hold honors ctx for shutdown; the gate is closed either way.
func (l *Link) PulseGate(ctx context.Context) error {
	if err := l.GateOpen(); err != nil {
		return err
	}

	dwell := time.NewTimer(l.cfg.GateDwell)
	defer dwell.Stop()

	select {
	case <-ctx.Done():
		_ = l.GateClose()
		return ctx.Err()
	case <-dwell.C:
	}
	return l.GateClose()
}

func (l *Link) sendByte(b byte) error {
	if _, err := l.port.Write([]byte{b}); err != nil {
		return fmt.Errorf("link: send %q: %w", b, err)
	}
	return nil
}

// parseTagLine extracts (plate, balance) from a raw peer line. Lines starting
// with '[' are peer chatter; the balance tolerates line-noise framing by
// stripping non-printable characters before parsing.
func parseTagLine(line string) (Tag, bool) {
	if strings.HasPrefix(line, "[") {
		return Tag{}, false
	}
	parts := strings.Split(line, ",")
	if len(parts) != 2 {
		return Tag{}, false
	}

	plateText := strings.TrimSpace(parts[0])
	balanceText := stripNonPrintable(strings.TrimSpace(parts[1]))
	if plateText == "" || balanceText == "" {
		return Tag{}, false
	}

	balance, err := strconv.ParseInt(balanceText, 10, 64)
	if err != nil || balance < 0 {
		return Tag{}, false
	}
	return Tag{Plate: plateText, Balance: balance}, true
}

func stripNonPrintable(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}
