package testutils

import (
	"bytes"
	"errors"
	"net"
	"sync"
	"time"
)

// ConnectionMock is a net.Conn that serves a canned request and records
// what the server writes back.
type ConnectionMock struct {
	mu       sync.Mutex
	request  []byte
	readErr  error
	writeErr error
	writeBuf bytes.Buffer
	reads    int
	closed   bool
}

// NewConnectionMock creates a mock connection whose first Read returns
// request.
func NewConnectionMock(request string) *ConnectionMock {
	return &ConnectionMock{request: []byte(request)}
}

// WithReadError makes every Read fail with err.
func (m *ConnectionMock) WithReadError(err error) *ConnectionMock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErr = err
	return m
}

// WithWriteError makes every Write fail with err.
func (m *ConnectionMock) WithWriteError(err error) *ConnectionMock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
	return m
}

func (m *ConnectionMock) Read(b []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reads++
	if m.closed {
		return 0, net.ErrClosed
	}
	if m.readErr != nil {
		return 0, m.readErr
	}
	if len(m.request) == 0 {
		return 0, errors.New("testutils: no more data")
	}
	n := copy(b, m.request)
	m.request = m.request[n:]
	return n, nil
}

func (m *ConnectionMock) Write(b []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, net.ErrClosed
	}
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	return m.writeBuf.Write(b)
}

func (m *ConnectionMock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *ConnectionMock) LocalAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5555}
}

func (m *ConnectionMock) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}
}

func (m *ConnectionMock) SetDeadline(t time.Time) error      { return nil }
func (m *ConnectionMock) SetReadDeadline(t time.Time) error  { return nil }
func (m *ConnectionMock) SetWriteDeadline(t time.Time) error { return nil }

// Written returns everything written to the connection.
func (m *ConnectionMock) Written() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeBuf.String()
}

// Reads returns the number of Read calls.
func (m *ConnectionMock) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

// IsClosed reports whether Close was called.
func (m *ConnectionMock) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
