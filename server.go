package meterd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gasmeter/meterd/protocol"
	"github.com/gasmeter/meterd/store"
	"github.com/jackc/puddle/v2"
)

// ErrServerClosed is returned by Serve and ListenAndServe after Shutdown or
// Close.
var ErrServerClosed = errors.New("meterd: server closed")

// Server accepts connections and serves the meter protocol on them, one
// handler per connection.
//
// The accept loop never waits on a client: each accepted connection gets a
// handler slot and its own goroutine. When all Config.MaxConns slots are
// taken, the loop waits up to Config.QueueTimeout for one and otherwise
// answers "Server Busy" and moves on.
type Server struct {
	store    *store.Store
	cfg      Config
	logger   *slog.Logger
	slots    *slotPool
	breakers map[store.Field]CircuitBreaker
	registry *handlerRegistry
	stats    *serverStatsCollector

	// done carries finished handlers to the reaper. It is buffered to
	// MaxConns so a handler never blocks on it.
	done chan *handler
	quit chan struct{}

	// rejects bounds the goroutines writing "Server Busy".
	rejects chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	listeners  map[net.Listener]struct{}
	inShutdown bool
	handlers   sync.WaitGroup
	finishOnce sync.Once
}

// NewServer creates a server backed by st. The server does nothing until
// Serve or ListenAndServe is called.
func NewServer(st *store.Store, cfg Config) (*Server, error) {
	if st == nil {
		return nil, fmt.Errorf("meterd: nil store")
	}

	slots, err := newSlotPool(cfg.MaxConns)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	breakers := make(map[store.Field]CircuitBreaker, len(store.Fields))
	if cfg.NewCircuitBreaker != nil {
		for _, f := range store.Fields {
			breakers[f] = cfg.NewCircuitBreaker(f)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		store:     st,
		cfg:       cfg,
		logger:    logger,
		slots:     slots,
		breakers:  breakers,
		registry:  newHandlerRegistry(),
		stats:     newServerStatsCollector(),
		done:      make(chan *handler, cfg.MaxConns),
		quit:      make(chan struct{}),
		rejects:   make(chan struct{}, cfg.MaxConns),
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(map[net.Listener]struct{}),
	}

	go s.reapLoop()

	return s, nil
}

// Listen binds the TCP address the server will accept on. A failure here is
// a startup error: nothing has been served.
func (s *Server) Listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("meterd: listen on %s: %w", addr, err)
	}
	return ln, nil
}

// ListenAndServe binds addr and serves on it until the server is shut down.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := s.Listen(addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until ln fails or the server is shut
// down. Serve takes ownership of ln and closes it on return.
func (s *Server) Serve(ln net.Listener) error {
	if !s.trackListener(ln) {
		_ = ln.Close()
		return ErrServerClosed
	}
	defer s.untrackListener(ln)

	s.logger.Info("meterd: serving", "addr", ln.Addr().String(), "max_conns", s.cfg.MaxConns)

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.shuttingDown() {
				return ErrServerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}

			s.stats.recordAcceptError()
			backoff = nextBackoff(backoff)
			s.logger.Warn("meterd: accept failed", "error", err, "retry_in", backoff)
			select {
			case <-time.After(backoff):
				continue
			case <-s.quit:
				return ErrServerClosed
			}
		}
		backoff = 0

		s.stats.recordAccept()

		res, err := s.slots.acquire(s.ctx, s.cfg.QueueTimeout)
		if err != nil {
			s.reject(conn, err)
			continue
		}

		s.spawn(conn, res)
	}
}

// spawn registers a handler for conn and starts it.
func (s *Server) spawn(conn net.Conn, res *puddle.Resource[*slot]) {
	h := &handler{
		srv:     s,
		conn:    conn,
		slot:    res,
		started: time.Now(),
	}

	s.mu.Lock()
	if s.inShutdown {
		s.mu.Unlock()
		res.Release()
		_ = conn.Close()
		return
	}
	s.handlers.Add(1)
	s.registry.add(h)
	s.mu.Unlock()

	go h.serve(s.ctx)
}

// reject answers conn with "Server Busy" and closes it. The write happens
// on its own goroutine with a short deadline so the accept loop moves on.
// At most MaxConns such writes run at once; past that conn is closed
// without a reply.
func (s *Server) reject(conn net.Conn, reason error) {
	s.stats.recordReject()
	s.logger.Warn("meterd: connection rejected", "remote", conn.RemoteAddr().String(), "reason", reason)

	select {
	case s.rejects <- struct{}{}:
	default:
		_ = conn.Close()
		return
	}

	go func() {
		defer func() { <-s.rejects }()
		defer conn.Close()
		_ = conn.SetDeadline(time.Now().Add(time.Second))
		_, _ = conn.Write([]byte(protocol.ServerBusy))

		// Consume the unread request so closing does not reset the
		// connection before the client has read the reply.
		if tc, ok := conn.(interface{ CloseWrite() error }); ok {
			_ = tc.CloseWrite()
		}
		_, _ = io.Copy(io.Discard, io.LimitReader(conn, protocol.MaxPayload))
	}()
}

// reapLoop receives finished handlers and releases what the server holds
// for them. It is the only place handlers leave the registry.
func (s *Server) reapLoop() {
	for {
		select {
		case h := <-s.done:
			s.reap(h)
		case <-s.quit:
			return
		}
	}
}

// reap leaves the registry last, so once ActiveHandlers drops the slot is
// already free and the completion counted.
func (s *Server) reap(h *handler) {
	if !s.registry.has(h) {
		s.logger.Error("meterd: handler reaped twice", "handler", h.id)
		return
	}
	h.slot.Release()
	s.stats.recordComplete()
	s.registry.remove(h)
	s.handlers.Done()
}

// guard runs fn through the field's circuit breaker, if any.
func (s *Server) guard(f store.Field, fn func() (string, error)) (string, error) {
	cb := s.breakers[f]
	if cb == nil {
		return fn()
	}
	return cb.Execute(fn)
}

// Shutdown stops accepting, then waits for in-flight handlers to finish.
// If ctx ends first, the remaining connections are closed and ctx's error
// is returned; those handlers are still reaped in the background.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.inShutdown = true
	err := s.closeListenersLocked()
	s.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		s.finish()
		return err
	case <-ctx.Done():
		s.cancel()
		n := s.registry.closeConns()
		s.logger.Warn("meterd: shutdown deadline reached, closing connections", "open", n)
		go func() {
			<-drained
			s.finish()
		}()
		return ctx.Err()
	}
}

// Close closes all listeners and connections immediately.
func (s *Server) Close() error {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Shutdown(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// finish stops the reaper and the slot pool once every handler is reaped.
func (s *Server) finish() {
	s.finishOnce.Do(func() {
		s.cancel()
		close(s.quit)
		s.slots.close()
		s.logger.Info("meterd: server stopped")
	})
}

// Addr returns the address of one listener, or nil when not serving.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ln := range s.listeners {
		return ln.Addr()
	}
	return nil
}

// ActiveHandlers returns the number of handlers spawned and not yet reaped.
func (s *Server) ActiveHandlers() int {
	return s.registry.len()
}

// Handlers lists the live handlers.
func (s *Server) Handlers() []HandlerInfo {
	return s.registry.snapshot()
}

// Stats returns a snapshot of server statistics.
func (s *Server) Stats() ServerStats {
	st := s.stats.snapshot()
	st.ActiveHandlers = s.registry.len()
	st.Slots = s.slots.stats()
	return st
}

// BreakerStates returns the circuit breaker state of each field. It is empty
// when no circuit breaker is configured.
func (s *Server) BreakerStates() map[store.Field]CircuitBreakerState {
	states := make(map[store.Field]CircuitBreakerState, len(s.breakers))
	for f, cb := range s.breakers {
		states[f] = cb.State()
	}
	return states
}

func (s *Server) shuttingDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inShutdown
}

func (s *Server) trackListener(ln net.Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inShutdown {
		return false
	}
	s.listeners[ln] = struct{}{}
	return true
}

func (s *Server) untrackListener(ln net.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.listeners[ln]; ok {
		delete(s.listeners, ln)
		_ = ln.Close()
	}
}

func (s *Server) closeListenersLocked() error {
	var err error
	for ln := range s.listeners {
		if cerr := ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) && err == nil {
			err = cerr
		}
		delete(s.listeners, ln)
	}
	return err
}

func nextBackoff(d time.Duration) time.Duration {
	const maxBackoff = time.Second
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}
