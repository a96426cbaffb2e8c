// Package conn owns the transport socket lifecycle: connect, reconnect
// with fixed backoff, staleness suppression via a generation counter, and
// the conflict-loop guard for contended accounts.
package conn

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/mfigueiredo/wamcp/internal/bus"
	"github.com/mfigueiredo/wamcp/internal/status"
	"github.com/mfigueiredo/wamcp/internal/transport"
	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

const (
	// conflictLimit bounds reconnect attempts after "session replaced"
	// closes. Above it the machine stops and surfaces a terminal error.
	conflictLimit = 2

	defaultRetryDelay     = 2 * time.Second
	defaultConflictDelay  = 5 * time.Second
	defaultStabilizeAfter = 30 * time.Second
)

// Machine drives the transport connection. It is the only component that
// mutates socket lifecycles; everyone else reads the socket reference to
// invoke request/response operations.
type Machine struct {
	dialer transport.Dialer
	state  *status.Machine
	bus    *bus.Bus
	logger *zap.Logger

	// Tunable for tests; defaults match production policy.
	RetryDelay     time.Duration
	ConflictDelay  time.Duration
	StabilizeAfter time.Duration
	QROut          io.Writer

	mu         sync.Mutex
	generation uint64
	sock       transport.Socket
	conflicts  int
	qrShown    bool
}

// New creates a connection machine. It does not connect.
func New(dialer transport.Dialer, state *status.Machine, b *bus.Bus, logger *zap.Logger) *Machine {
	return &Machine{
		dialer:         dialer,
		state:          state,
		bus:            b,
		logger:         logger,
		RetryDelay:     defaultRetryDelay,
		ConflictDelay:  defaultConflictDelay,
		StabilizeAfter: defaultStabilizeAfter,
		QROut:          os.Stderr,
	}
}

// Connect allocates a new generation and establishes a transport socket.
// Lifecycle events from earlier generations are discarded from here on.
// A construction failure is published as an error status and returned.
func (m *Machine) Connect(ctx context.Context) error {
	m.mu.Lock()
	m.generation++
	g := m.generation
	m.qrShown = false
	m.mu.Unlock()

	_ = m.state.Transition(status.Connecting)
	m.state.Publish(status.Snapshot{})
	m.logger.Info("connecting", zap.Uint64("generation", g))

	ev := transport.Events{
		OnConnection: func(u transport.ConnUpdate) {
			m.guard("connection", func() { m.handleConnUpdate(g, u) })
		},
		OnMessages: func(batch []transport.Inbound) {
			m.guard("messages", func() { m.bus.Publish(bus.KindMessages, batch) })
		},
		OnContacts: func(contacts []transport.Contact) {
			m.guard("contacts", func() { m.bus.Publish(bus.KindContacts, contacts) })
		},
	}

	sock, err := m.dialer.Dial(ctx, ev)
	if err != nil {
		m.logger.Error("socket construction failed", zap.Error(err))
		_ = m.state.Transition(status.Failed)
		m.state.Publish(status.Snapshot{Error: err.Error()})
		return fmt.Errorf("establish connection: %w", err)
	}

	m.mu.Lock()
	if g != m.generation {
		// Superseded while dialing.
		m.mu.Unlock()
		sock.Disconnect()
		return nil
	}
	m.sock = sock
	m.mu.Unlock()
	return nil
}

// Socket returns the current socket, or nil when disconnected.
func (m *Machine) Socket() transport.Socket {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sock
}

// Disconnect logs out gracefully, clears the socket reference, and
// publishes a disconnected snapshot. Idempotent.
func (m *Machine) Disconnect(ctx context.Context) {
	sock := m.takeSocket()
	if sock != nil {
		if err := sock.Logout(ctx); err != nil {
			m.logger.Warn("logout failed", zap.Error(err))
		}
		sock.Disconnect()
	}
	_ = m.state.Transition(status.Disconnected)
	m.state.Publish(status.Snapshot{})
}

// Shutdown closes the socket without logging out, keeping credentials for
// the next run. Used on daemon stop.
func (m *Machine) Shutdown() {
	sock := m.takeSocket()
	if sock != nil {
		sock.Disconnect()
	}
	_ = m.state.Transition(status.Disconnected)
	m.state.Publish(status.Snapshot{})
}

func (m *Machine) takeSocket() transport.Socket {
	m.mu.Lock()
	defer m.mu.Unlock()
	sock := m.sock
	m.sock = nil
	// Bump the generation so pending timers and in-flight events from the
	// old socket turn stale.
	m.generation++
	m.conflicts = 0
	return sock
}

// guard fault-isolates a transport event handler.
func (m *Machine) guard(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("event handler panic", zap.String("handler", name), zap.Any("panic", r))
		}
	}()
	fn()
}

func (m *Machine) handleConnUpdate(g uint64, u transport.ConnUpdate) {
	switch {
	case u.QR != "":
		m.handleQR(g, u.QR)
	case u.State == transport.StateOpen:
		m.handleOpen(g)
	case u.State == transport.StateClosed:
		m.handleClose(g, u)
	}
}

func (m *Machine) handleQR(g uint64, code string) {
	m.mu.Lock()
	if g != m.generation {
		m.mu.Unlock()
		return
	}
	first := !m.qrShown
	m.qrShown = true
	m.mu.Unlock()

	_ = m.state.Transition(status.QrPending)
	m.state.Publish(status.Snapshot{QRCode: code})
	if first {
		m.renderQR(code)
	}
}

func (m *Machine) handleOpen(g uint64) {
	m.mu.Lock()
	if g != m.generation {
		m.mu.Unlock()
		return
	}
	sock := m.sock
	m.mu.Unlock()

	var phone string
	if sock != nil {
		phone = sock.AccountID()
	}
	_ = m.state.Transition(status.Connected)
	m.state.Publish(status.Snapshot{Connected: true, PhoneNumber: phone})
	m.logger.Info("connected", zap.Uint64("generation", g), zap.String("phone", phone))

	// A connection that stays up is evidence the account is not actually
	// contended: reset the conflict counter after the stabilization window.
	time.AfterFunc(m.StabilizeAfter, func() {
		m.mu.Lock()
		if g == m.generation && m.sock != nil {
			m.conflicts = 0
		}
		m.mu.Unlock()
	})
}

func (m *Machine) handleClose(g uint64, u transport.ConnUpdate) {
	m.mu.Lock()
	if g != m.generation {
		m.mu.Unlock()
		m.logger.Debug("discarding stale close",
			zap.Uint64("event_generation", g),
			zap.Uint64("current_generation", m.generation))
		return
	}
	m.sock = nil

	if u.Reason == transport.ReasonLoggedOut {
		m.mu.Unlock()
		m.logger.Warn("logged out, relink required", zap.Error(u.Err))
		_ = m.state.Transition(status.Failed)
		m.state.Publish(status.Snapshot{Error: "logged out: scan the QR code again to relink"})
		return
	}

	delay := m.RetryDelay
	if u.Reason == transport.ReasonReplaced {
		m.conflicts++
		if m.conflicts > conflictLimit {
			m.mu.Unlock()
			m.logger.Error("too many conflicts, giving up", zap.Int("conflicts", conflictLimit+1))
			_ = m.state.Transition(status.Failed)
			m.state.Publish(status.Snapshot{Error: "too many conflicts: session replaced by another client, restart required"})
			return
		}
		delay = m.ConflictDelay
	}
	m.mu.Unlock()

	errText := ""
	if u.Err != nil {
		errText = u.Err.Error()
	}
	_ = m.state.Transition(status.ReconnectWait)
	m.state.Publish(status.Snapshot{Error: errText})
	m.logger.Warn("connection closed, reconnecting", zap.Duration("delay", delay), zap.Error(u.Err))

	time.AfterFunc(delay, func() {
		m.mu.Lock()
		stale := g != m.generation
		m.mu.Unlock()
		if stale {
			return
		}
		if err := m.Connect(context.Background()); err != nil {
			m.logger.Error("reconnect failed", zap.Error(err))
		}
	})
}

// renderQR prints the pairing code to the auxiliary output. Best-effort.
func (m *Machine) renderQR(code string) {
	qr, err := qrcode.New(code, qrcode.Medium)
	if err != nil {
		m.logger.Debug("QR render failed", zap.Error(err))
		return
	}
	fmt.Fprintln(m.QROut, "Scan the QR code to link this device:")
	fmt.Fprint(m.QROut, qr.ToSmallString(false))
}
