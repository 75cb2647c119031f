package websocket

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"
	"sync/atomic"
)

// Role fixes the masking direction of a connection. A client masks
// every outgoing frame with a fresh random key; a server never masks
// outgoing frames.
type Role int

// Role constants.
const (
	RoleServer Role = iota
	RoleClient
)

func (r Role) String() string {
	switch r {
	case RoleServer:
		return "RoleServer"
	case RoleClient:
		return "RoleClient"
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

// State is the connection lifecycle state. Transitions are one
// directional: StateOpen -> StateClosing -> StateClosed.
type State int

// State constants.
const (
	// StateOpen permits both sends and receives.
	StateOpen State = iota
	// StateClosing is entered the instant a close frame is sent or
	// received. No new application sends are permitted; the initiating
	// side still reads the echoed close frame.
	StateClosing
	// StateClosed rejects every operation with ErrClosed.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "StateOpen"
	case StateClosing:
		return "StateClosing"
	case StateClosed:
		return "StateClosed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Conn represents a WebSocket connection.
//
// All methods may be called concurrently except that only one
// goroutine may be in Read and one in Write at a time.
//
// Be sure to call Close on the connection when you are finished
// with it to release associated resources.
type Conn struct {
	role        Role
	subprotocol string
	rwc         io.Closer
	br          *bufio.Reader
	bw          *bufio.Writer

	readMu    mu
	writeMu   mu
	readLimit atomic.Int64

	stateMu sync.Mutex
	state   State

	closed   chan struct{}
	closeMu  sync.Mutex
	closeErr error

	wroteClose        bool
	readCloseFrameErr error

	readTimeout  chan context.Context
	writeTimeout chan context.Context
}

type connConfig struct {
	role        Role
	subprotocol string
	rwc         io.Closer

	br *bufio.Reader
	bw *bufio.Writer
}

// NewConn wraps an already upgraded byte stream in a connection with
// the given role. The stream is exclusively owned by the returned
// connection; Accept and Dial call this after completing the
// handshake.
func NewConn(rwc io.ReadWriteCloser, role Role) *Conn {
	return newConn(connConfig{
		role: role,
		rwc:  rwc,
		br:   bufio.NewReader(rwc),
		bw:   bufio.NewWriter(rwc),
	})
}

func newConn(cfg connConfig) *Conn {
	c := &Conn{
		role:        cfg.role,
		subprotocol: cfg.subprotocol,
		rwc:         cfg.rwc,
		br:          cfg.br,
		bw:          cfg.bw,

		closed:       make(chan struct{}),
		readTimeout:  make(chan context.Context),
		writeTimeout: make(chan context.Context),
	}
	c.readLimit.Store(defaultReadLimit)

	runtime.SetFinalizer(c, func(c *Conn) {
		c.close(errors.New("connection garbage collected"))
	})

	go c.timeoutLoop()

	return c
}

// Role returns the connection's role.
func (c *Conn) Role() Role {
	return c.role
}

// Subprotocol returns the negotiated subprotocol.
// An empty string means the default protocol.
func (c *Conn) Subprotocol() string {
	return c.subprotocol
}

// State returns the lifecycle state of the connection.
func (c *Conn) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// setState advances the state machine. Transitions are one
// directional so a stale caller can never move the state backwards.
func (c *Conn) setState(s State) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if s > c.state {
		c.state = s
	}
}

func (c *Conn) timeoutLoop() {
	readCtx := context.Background()
	writeCtx := context.Background()

	for {
		select {
		case <-c.closed:
			return

		case writeCtx = <-c.writeTimeout:
		case readCtx = <-c.readTimeout:

		case <-readCtx.Done():
			c.close(fmt.Errorf("read timed out: %w", readCtx.Err()))
			return
		case <-writeCtx.Done():
			c.close(fmt.Errorf("write timed out: %w", writeCtx.Err()))
			return
		}
	}
}

// close tears the connection down. Closing the transport resolves any
// suspended read with an error so no reader is left pending forever.
func (c *Conn) close(err error) {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.isClosed() {
		return
	}
	close(c.closed)
	runtime.SetFinalizer(c, nil)
	c.setCloseErrLocked(err)
	c.setState(StateClosed)

	// Closing the transport has to happen after c.closed is closed so
	// a goroutine that wakes up from the transport erroring sees
	// c.closed and returns closeErr.
	c.rwc.Close()
}

func (c *Conn) setCloseErr(err error) {
	c.closeMu.Lock()
	c.setCloseErrLocked(err)
	c.closeMu.Unlock()
}

func (c *Conn) setCloseErrLocked(err error) {
	if c.closeErr == nil {
		if err == nil {
			err = errors.New("connection torn down")
		}
		c.closeErr = fmt.Errorf("%w: %w", ErrClosed, err)
	}
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// mu is a context aware lock. Only one reader and one writer may own
// the connection at a time; a second concurrent producer must
// serialize externally as interleaved partial frame writes corrupt
// the wire format.
type mu struct {
	once sync.Once
	ch   chan struct{}
}

func (m *mu) init() {
	m.once.Do(func() {
		m.ch = make(chan struct{}, 1)
	})
}

func (m *mu) Lock(ctx context.Context) error {
	m.init()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case m.ch <- struct{}{}:
		return nil
	}
}

func (m *mu) Unlock() {
	<-m.ch
}
