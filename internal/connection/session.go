package connection

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/maxvit/ctrader_meanrev/internal/protocol"
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAppAuthenticating
	StateAccountAuthenticating
	StateReady
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAppAuthenticating:
		return "app-authenticating"
	case StateAccountAuthenticating:
		return "account-authenticating"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

var (
	ErrNotConnected       = errors.New("connection: no active socket")
	ErrClosed             = errors.New("connection: session closed")
	ErrRequestTimeout     = errors.New("connection: request timed out")
	ErrReconnectExhausted = errors.New("connection: reconnect attempts exhausted")
)

// ServerError is a broker error-event resolved against a pending request.
type ServerError struct {
	Code        string
	Description string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %s: %s", e.Code, e.Description)
}

type Config struct {
	Addr         string
	TLS          *tls.Config
	ClientID     string
	ClientSecret string

	HeartbeatInterval    time.Duration
	StaleTimeout         time.Duration
	RequestTimeout       time.Duration
	ReconnectBase        time.Duration
	ReconnectMax         time.Duration
	MaxReconnectAttempts int

	// Dial overrides the TLS dialer, for tests.
	Dial func(ctx context.Context) (net.Conn, error)
}

func (c *Config) withDefaults() {
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 10 * time.Second
	}
	if c.StaleTimeout == 0 {
		c.StaleTimeout = 30 * time.Second
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 15 * time.Second
	}
	if c.ReconnectBase == 0 {
		c.ReconnectBase = time.Second
	}
	if c.ReconnectMax == 0 {
		c.ReconnectMax = time.Minute
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
}

// Session owns one logical broker connection: the TLS socket, the
// request/response correlation table, the heartbeat timer and the
// reconnect backoff. All inbound traffic is processed by one ordered read
// loop; writes are serialized.
type Session struct {
	cfg Config
	log *zap.Logger

	// AccountAuth performs account-level authentication once application
	// auth has succeeded. It is issued by the caller so credential refresh
	// can be injected externally. Must be set before Start.
	AccountAuth func(ctx context.Context) error
	// Handler receives unsolicited envelopes in read-loop order.
	Handler func(env protocol.Envelope)
	// OnReady fires after every successful account auth, on a fresh
	// goroutine. Subscriptions and reconciliation hang off it.
	OnReady func()
	// OnFatal fires once when reconnection attempts are exhausted.
	OnFatal func(err error)

	nextID atomic.Uint64

	writeMu sync.Mutex

	mu             sync.Mutex
	state          State
	conn           net.Conn
	pending        map[uint64]*pendingRequest
	lastRecv       time.Time
	attempts       int
	reconnectTimer *time.Timer
	hbStop         chan struct{}
	fatalFired     bool
	closed         bool
}

type pendingRequest struct {
	kind  protocol.MsgKind
	ch    chan result
	timer *time.Timer
}

type result struct {
	env protocol.Envelope
	err error
}

func NewSession(cfg Config, log *zap.Logger) *Session {
	cfg.withDefaults()
	return &Session{
		cfg:     cfg,
		log:     log,
		pending: make(map[uint64]*pendingRequest),
	}
}

// Start kicks off the first connection attempt. Failures from here on are
// handled through the reconnect path; only exhaustion reaches OnFatal.
func (s *Session) Start() {
	go s.connect()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Ready() bool {
	return s.State() == StateReady
}

// Attempts returns the current reconnect attempt counter.
func (s *Session) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *Session) dial() (net.Conn, error) {
	if s.cfg.Dial != nil {
		return s.cfg.Dial(context.Background())
	}
	d := &tls.Dialer{Config: s.cfg.TLS, NetDialer: &net.Dialer{Timeout: 10 * time.Second}}
	return d.Dial("tcp", s.cfg.Addr)
}

func (s *Session) connect() {
	s.mu.Lock()
	if s.closed || s.conn != nil {
		s.mu.Unlock()
		return
	}
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	s.state = StateConnecting
	s.mu.Unlock()

	conn, err := s.dial()
	if err != nil {
		s.log.Warn("dial failed", zap.String("addr", s.cfg.Addr), zap.Error(err))
		s.mu.Lock()
		s.state = StateDisconnected
		s.mu.Unlock()
		s.scheduleReconnect()
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conn = conn
	s.lastRecv = time.Now()
	s.state = StateAppAuthenticating
	s.mu.Unlock()

	go s.readLoop(conn)
	go s.authenticate(conn)
}

// authenticate drives the two-stage handshake for one physical connection.
func (s *Session) authenticate(conn net.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*s.cfg.RequestTimeout)
	defer cancel()

	_, err := s.Request(ctx, protocol.KindAppAuthRequest, protocol.AppAuthRequest{
		ClientID:     s.cfg.ClientID,
		ClientSecret: s.cfg.ClientSecret,
	})
	if err != nil {
		s.log.Warn("application auth failed", zap.Error(err))
		s.teardown(conn, fmt.Errorf("app auth: %w", err))
		return
	}

	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.state = StateAccountAuthenticating
	s.mu.Unlock()

	if s.AccountAuth != nil {
		if err := s.AccountAuth(ctx); err != nil {
			s.log.Warn("account auth failed", zap.Error(err))
			s.teardown(conn, fmt.Errorf("account auth: %w", err))
			return
		}
	}

	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.state = StateReady
	s.attempts = 0
	s.hbStop = make(chan struct{})
	go s.heartbeatLoop(conn, s.hbStop)
	s.mu.Unlock()

	s.log.Info("session ready", zap.String("addr", s.cfg.Addr))
	if s.OnReady != nil {
		go s.OnReady()
	}
}

// Request sends a correlated request and blocks until the matching
// response arrives, the per-request timeout fires, or ctx is done.
func (s *Session) Request(ctx context.Context, kind protocol.MsgKind, body any) (protocol.Envelope, error) {
	id := s.nextID.Add(1)
	payload, err := protocol.Marshal(kind, id, body)
	if err != nil {
		return protocol.Envelope{}, err
	}

	pr := &pendingRequest{kind: kind, ch: make(chan result, 1)}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return protocol.Envelope{}, ErrClosed
	}
	conn := s.conn
	if conn == nil {
		s.mu.Unlock()
		return protocol.Envelope{}, ErrNotConnected
	}
	s.pending[id] = pr
	s.mu.Unlock()

	pr.timer = time.AfterFunc(s.cfg.RequestTimeout, func() {
		s.failPending(id, ErrRequestTimeout)
	})

	if err := s.write(conn, payload); err != nil {
		s.dropPending(id)
		s.teardown(conn, fmt.Errorf("write: %w", err))
		return protocol.Envelope{}, err
	}

	select {
	case res := <-pr.ch:
		return res.env, res.err
	case <-ctx.Done():
		s.dropPending(id)
		return protocol.Envelope{}, ctx.Err()
	}
}

func (s *Session) dropPending(id uint64) {
	s.mu.Lock()
	pr, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.mu.Unlock()
	if ok && pr.timer != nil {
		pr.timer.Stop()
	}
}

func (s *Session) failPending(id uint64, err error) {
	s.mu.Lock()
	pr, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	if pr.timer != nil {
		pr.timer.Stop()
	}
	pr.ch <- result{err: err}
}

func (s *Session) resolvePending(env protocol.Envelope) bool {
	s.mu.Lock()
	pr, ok := s.pending[env.CorrelationID]
	if ok {
		delete(s.pending, env.CorrelationID)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	if pr.timer != nil {
		pr.timer.Stop()
	}
	if env.Type == protocol.KindErrorEvent {
		var ev protocol.ErrorEvent
		if err := protocol.DecodeBody(env, &ev); err != nil {
			pr.ch <- result{err: err}
			return true
		}
		pr.ch <- result{err: &ServerError{Code: ev.Code, Description: ev.Description}}
		return true
	}
	pr.ch <- result{env: env}
	return true
}

func (s *Session) write(conn net.Conn, payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	_, err := conn.Write(protocol.EncodeFrame(payload))
	return err
}

func (s *Session) readLoop(conn net.Conn) {
	framer := &protocol.Framer{}
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			s.teardown(conn, fmt.Errorf("read: %w", err))
			return
		}
		framer.Feed(buf[:n])
		for {
			payload, err := framer.Next()
			if err != nil {
				// Corrupt length prefix; stream sync is lost.
				s.teardown(conn, err)
				return
			}
			if payload == nil {
				break
			}
			s.touch()
			env, err := protocol.Unmarshal(payload)
			if err != nil {
				s.log.Warn("skipping undecodable frame", zap.Error(err))
				continue
			}
			s.dispatch(env)
		}
	}
}

// touch refreshes the staleness clock. Any inbound message counts.
func (s *Session) touch() {
	s.mu.Lock()
	s.lastRecv = time.Now()
	s.mu.Unlock()
}

func (s *Session) dispatch(env protocol.Envelope) {
	if env.CorrelationID != 0 && s.resolvePending(env) {
		return
	}
	if env.Type == protocol.KindHeartbeatEvent {
		return
	}
	if s.Handler != nil {
		s.Handler(env)
	}
}

func (s *Session) heartbeatLoop(conn net.Conn, stop chan struct{}) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			stale := time.Since(s.lastRecv) > s.cfg.StaleTimeout
			s.mu.Unlock()
			if stale {
				s.log.Warn("connection stale, tearing down",
					zap.Duration("timeout", s.cfg.StaleTimeout))
				s.teardown(conn, errors.New("heartbeat: stale connection"))
				return
			}
			payload, err := protocol.Marshal(protocol.KindHeartbeatEvent, 0, protocol.HeartbeatEvent{})
			if err != nil {
				continue
			}
			if err := s.write(conn, payload); err != nil {
				s.teardown(conn, fmt.Errorf("heartbeat write: %w", err))
				return
			}
		}
	}
}

// teardown closes one physical connection, fails its pending requests and
// schedules a reconnect. Idempotent per connection.
func (s *Session) teardown(conn net.Conn, cause error) {
	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.state = StateDisconnected
	if s.hbStop != nil {
		close(s.hbStop)
		s.hbStop = nil
	}
	orphaned := s.pending
	s.pending = make(map[uint64]*pendingRequest)
	closed := s.closed
	s.mu.Unlock()

	conn.Close()
	for _, pr := range orphaned {
		if pr.timer != nil {
			pr.timer.Stop()
		}
		pr.ch <- result{err: fmt.Errorf("connection lost: %w", cause)}
	}

	if closed {
		return
	}
	s.log.Warn("connection down", zap.Error(cause))
	s.scheduleReconnect()
}

func (s *Session) scheduleReconnect() {
	s.mu.Lock()
	if s.closed || s.reconnectTimer != nil || s.conn != nil {
		s.mu.Unlock()
		return
	}
	if s.attempts >= s.cfg.MaxReconnectAttempts {
		fire := !s.fatalFired
		s.fatalFired = true
		s.mu.Unlock()
		if fire && s.OnFatal != nil {
			s.OnFatal(ErrReconnectExhausted)
		}
		return
	}
	delay := backoffDelay(s.cfg.ReconnectBase, s.cfg.ReconnectMax, s.attempts)
	s.attempts++
	attempt := s.attempts
	s.reconnectTimer = time.AfterFunc(delay, s.connect)
	s.mu.Unlock()

	s.log.Info("reconnect scheduled",
		zap.Int("attempt", attempt), zap.Duration("delay", delay))
}

// backoffDelay computes min(base * 2^attempt, max).
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// Close shuts the session down permanently.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	conn := s.conn
	s.conn = nil
	s.state = StateDisconnected
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	if s.hbStop != nil {
		close(s.hbStop)
		s.hbStop = nil
	}
	orphaned := s.pending
	s.pending = make(map[uint64]*pendingRequest)
	s.mu.Unlock()

	for _, pr := range orphaned {
		if pr.timer != nil {
			pr.timer.Stop()
		}
		pr.ch <- result{err: ErrClosed}
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}
