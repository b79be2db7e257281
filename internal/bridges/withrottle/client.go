package withrottle

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Default timings for the wire connection.
const (
	// DefaultHeartbeatTimeout is the read timeout before the server
	// announces its own heartbeat interval.
	DefaultHeartbeatTimeout = 10 * time.Second

	// DefaultReconnectInterval is the fixed delay between sessions.
	DefaultReconnectInterval = 10 * time.Second

	// DefaultRosterInterval is the delay between acquiring roster entries.
	DefaultRosterInterval = time.Second

	defaultConnectTimeout = 10 * time.Second
	defaultWriteTimeout   = 5 * time.Second
	defaultDiscoverWait   = 5 * time.Second
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ConnState is the wire connection state.
type ConnState int32

// Connection states.
const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateActive
	StateCancelled
)

// String returns the lower-case state name.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Resolver finds the server address when none is configured.
type Resolver func(ctx context.Context) (string, error)

// ClientConfig configures the wire half of the bridge.
type ClientConfig struct {
	// Address is the server's host:port. When empty, Resolver is used.
	Address  string
	Resolver Resolver

	// ClientID and Name are sent in the handshake.
	ClientID string
	Name     string

	HeartbeatTimeout  time.Duration
	ReconnectInterval time.Duration

	// RosterInterval spaces out roster acquisition so the server is not
	// flooded. Negative disables the limit.
	RosterInterval time.Duration
}

// ClientStats is a point-in-time view of the wire connection.
type ClientStats struct {
	State         ConnState
	Address       string
	Sessions      uint64
	LinesReceived uint64
	LinesSent     uint64
	LastActivity  time.Time
}

// Client is the protocol-facing half of the bridge. It keeps a session
// open to the WiThrottle server, decodes lines into Events and writes
// queued Commands.
//
// Thread Safety: State and Stats are safe for concurrent use. Run must be
// called once.
type Client struct {
	cfg      ClientConfig
	events   *Queue[Event]
	commands *Queue[Command]
	dialer   net.Dialer
	logger   Logger
	metrics  *Metrics

	state        atomic.Int32
	address      atomic.Value // string
	sessions     atomic.Uint64
	linesRx      atomic.Uint64
	linesTx      atomic.Uint64
	lastActivity atomic.Int64
}

// NewClient creates a wire client that emits to events and drains commands.
func NewClient(cfg ClientConfig, events *Queue[Event], commands *Queue[Command]) (*Client, error) {
	if cfg.Address == "" && cfg.Resolver == nil {
		return nil, fmt.Errorf("%w: address or resolver is required", ErrInvalidConfig)
	}
	if events == nil || commands == nil {
		return nil, fmt.Errorf("%w: queues are required", ErrInvalidConfig)
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = DefaultReconnectInterval
	}
	if cfg.RosterInterval == 0 {
		cfg.RosterInterval = DefaultRosterInterval
	}

	c := &Client{
		cfg:      cfg,
		events:   events,
		commands: commands,
		logger:   noopLogger{},
	}
	c.address.Store("")
	return c, nil
}

// SetLogger sets the logger. It must be called before Run.
func (c *Client) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.logger = logger
}

// SetMetrics sets the metrics sink. It must be called before Run.
func (c *Client) SetMetrics(m *Metrics) {
	c.metrics = m
}

// State returns the current connection state.
func (c *Client) State() ConnState {
	return ConnState(c.state.Load())
}

// IsConnected reports whether a session is active.
func (c *Client) IsConnected() bool {
	return c.State() == StateActive
}

// Stats returns connection statistics.
func (c *Client) Stats() ClientStats {
	var last time.Time
	if ts := c.lastActivity.Load(); ts != 0 {
		last = time.Unix(0, ts)
	}
	addr, _ := c.address.Load().(string)
	return ClientStats{
		State:         c.State(),
		Address:       addr,
		Sessions:      c.sessions.Load(),
		LinesReceived: c.linesRx.Load(),
		LinesSent:     c.linesTx.Load(),
		LastActivity:  last,
	}
}

func (c *Client) setState(s ConnState) {
	c.state.Store(int32(s))
	c.metrics.setState(s)
}

// Run keeps a session open until ctx is cancelled. A failed or dropped
// session is retried after the reconnect interval. Run returns nil once
// cancelled.
func (c *Client) Run(ctx context.Context) error {
	for {
		c.setState(StateConnecting)
		err := c.runSession(ctx)

		if ctx.Err() != nil {
			c.setState(StateCancelled)
			c.logger.Info("withrottle client stopped")
			return nil
		}

		c.setState(StateDisconnected)
		c.metrics.recordSessionFailure()
		c.logger.Warn("withrottle session ended, retrying",
			"error", err,
			"retry_in", c.cfg.ReconnectInterval)

		select {
		case <-ctx.Done():
			c.setState(StateCancelled)
			c.logger.Info("withrottle client stopped")
			return nil
		case <-time.After(c.cfg.ReconnectInterval):
		}
	}
}

func (c *Client) resolve(ctx context.Context) (string, error) {
	if c.cfg.Address != "" {
		return c.cfg.Address, nil
	}
	addr, err := c.cfg.Resolver(ctx)
	if err != nil {
		return "", err
	}
	if addr == "" {
		return "", ErrNoServer
	}
	return addr, nil
}

// runSession connects, handshakes and serves one session. It returns when
// the connection fails or ctx is cancelled.
func (c *Client) runSession(ctx context.Context) error {
	addr, err := c.resolve(ctx)
	if err != nil {
		return fmt.Errorf("%w: resolve: %w", ErrConnectionFailed, err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	conn, err := c.dialer.DialContext(dialCtx, "tcp", addr)
	cancel()
	if err != nil {
		return fmt.Errorf("%w: dial %s: %w", ErrConnectionFailed, addr, err)
	}
	c.address.Store(addr)

	s := &session{
		client:  c,
		conn:    conn,
		timeout: c.cfg.HeartbeatTimeout,
	}

	c.events.Put(ResetEvent{})
	if err := s.send(handshakeLines(c.cfg.ClientID, c.cfg.Name)...); err != nil {
		conn.Close()
		return fmt.Errorf("%w: handshake: %w", ErrConnectionLost, err)
	}

	c.sessions.Add(1)
	c.metrics.recordSession()
	c.setState(StateActive)
	c.logger.Info("withrottle session active", "address", addr)

	g, gctx := errgroup.WithContext(ctx)
	lines := make(chan string)
	s.group = g
	s.ctx = gctx

	g.Go(func() error { return s.readLines(gctx, lines) })
	g.Go(func() error { return s.writeCommands(gctx) })
	g.Go(func() error { return s.dispatch(ctx, gctx, lines) })

	return g.Wait()
}

// session is one TCP connection to the server. Its errgroup owns the
// reader, the command writer, the dispatcher and any roster registration
// tasks; cancelling the group stops them all.
type session struct {
	client *Client
	conn   net.Conn
	group  *errgroup.Group
	ctx    context.Context

	writeMu sync.Mutex

	// Owned by the dispatch goroutine.
	timeout     time.Duration
	powerProbed bool
}

// send writes lines atomically with respect to other writers.
func (s *session) send(lines ...string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	if _, err := io.WriteString(s.conn, b.String()); err != nil {
		return err
	}
	s.client.linesTx.Add(uint64(len(lines)))
	s.client.metrics.recordSent(len(lines))
	return nil
}

// readLines feeds received lines to the dispatcher.
func (s *session) readLines(ctx context.Context, out chan<- string) error {
	scanner := bufio.NewScanner(s.conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		s.client.linesRx.Add(1)
		s.client.lastActivity.Store(time.Now().UnixNano())
		select {
		case out <- line:
		case <-ctx.Done():
			return nil
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	return fmt.Errorf("%w: %w", ErrConnectionLost, err)
}

// writeCommands drains the command queue while the session lasts.
func (s *session) writeCommands(ctx context.Context) error {
	for {
		cmd, err := s.client.commands.Get(ctx)
		if err != nil {
			return nil
		}
		if err := s.send(cmd.Lines()...); err != nil {
			s.client.logger.Warn("dropping command, write failed", "lines", cmd.Lines(), "error", err)
			return fmt.Errorf("%w: write: %w", ErrConnectionLost, err)
		}
	}
}

// dispatch handles lines and the heartbeat timer. It owns the connection
// and closes it on exit, which unblocks the reader.
func (s *session) dispatch(parent, ctx context.Context, lines <-chan string) error {
	defer s.conn.Close()

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if parent.Err() != nil {
				if err := s.send(lineQuit); err != nil {
					s.client.logger.Debug("quit not delivered", "error", err)
				}
			}
			return nil

		case line := <-lines:
			s.handleLine(line)
			timer.Reset(s.timeout)

		case <-timer.C:
			// Silence is not a fault. Probe and keep waiting.
			if err := s.send(lineKeepAlive); err != nil {
				return fmt.Errorf("%w: keep-alive: %w", ErrConnectionLost, err)
			}
			timer.Reset(s.timeout)
		}
	}
}

func (s *session) handleLine(line string) {
	c := s.client

	switch {
	case line == "":
		return

	case strings.HasPrefix(line, prefixRoster):
		c.metrics.recordLine("roster")
		entries, skipped, err := ParseRoster(line)
		if err != nil {
			s.malformed(line, err)
			return
		}
		for _, raw := range skipped {
			c.metrics.recordMalformed()
			c.logger.Warn("skipping malformed roster entry", "entry", raw)
		}
		c.logger.Info("roster received", "entries", len(entries), "skipped", len(skipped))
		s.group.Go(func() error { return s.register(s.ctx, entries) })

	case strings.HasPrefix(line, prefixAction):
		c.metrics.recordLine("action")
		update, ok, err := ParseAction(line)
		if err != nil {
			s.malformed(line, err)
			return
		}
		if ok {
			c.events.Put(update)
		}

	case strings.HasPrefix(line, prefixLabels):
		c.metrics.recordLine("labels")
		update, err := ParseFunctionLabels(line)
		if err != nil {
			s.malformed(line, err)
			return
		}
		c.events.Put(update)

	case strings.HasPrefix(line, prefixAcquired):
		c.metrics.recordLine("acquired")
		addr, err := ParseAcquired(line)
		if err != nil {
			s.malformed(line, err)
			return
		}
		active := true
		c.events.Put(TrainUpdate{Address: addr, Active: &active})

	case strings.HasPrefix(line, prefixPower):
		c.metrics.recordLine("power")
		power, err := ParsePower(line)
		if err != nil {
			s.malformed(line, err)
			return
		}
		c.events.Put(PowerUpdate{State: power})
		if power == PowerUnknown && !s.powerProbed {
			// Resolve the ambiguity once per session by switching off.
			s.powerProbed = true
			if err := s.send(powerLine(false)); err != nil {
				c.logger.Warn("power probe failed", "error", err)
			}
		}

	case strings.HasPrefix(line, prefixHeartbeat):
		c.metrics.recordLine("heartbeat")
		timeout, ok, err := ParseHeartbeat(line)
		if err != nil {
			s.malformed(line, err)
			return
		}
		if ok {
			s.timeout = timeout
			c.logger.Debug("heartbeat timeout updated", "timeout", timeout)
		}

	case isIgnored(line):
		c.metrics.recordLine("ignored")

	default:
		c.metrics.recordLine("unknown")
		c.logger.Debug("unhandled withrottle line", "line", line)
	}
}

func (s *session) malformed(line string, err error) {
	s.client.metrics.recordMalformed()
	s.client.logger.Warn("dropping malformed line", "line", line, "error", err)
}

// register announces and acquires roster entries at the configured rate.
func (s *session) register(ctx context.Context, entries []RosterEntry) error {
	limit := rate.Inf
	if s.client.cfg.RosterInterval > 0 {
		limit = rate.Every(s.client.cfg.RosterInterval)
	}
	limiter := rate.NewLimiter(limit, 1)

	for _, e := range entries {
		if err := limiter.Wait(ctx); err != nil {
			// Cancelled with the session.
			return nil
		}
		s.client.events.Put(TrainDiscovered{Address: e.Address, Name: e.Name})
		if err := s.send(acquireLine(e.Address)); err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return fmt.Errorf("%w: acquire %s: %w", ErrConnectionLost, e.Address, err)
		}
	}
	return nil
}
