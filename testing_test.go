package meterd

import (
	"context"
	"errors"
	"net"
	"os"
	"testing"
	"time"

	"github.com/gasmeter/meterd/internal/testutils"
	"github.com/gasmeter/meterd/store"
	"github.com/stretchr/testify/require"
)

const (
	testReading = "123.40"
	testRoom    = "A100"
	testSerial  = "SN-0042"
)

// newTestStore returns a store in a temp dir holding testReading, testRoom
// and testSerial.
func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)

	writeField(t, st, store.Reading, testReading)
	writeField(t, st, store.RoomNumber, testRoom)
	writeField(t, st, store.SerialNumber, testSerial)
	return st
}

func writeField(t *testing.T, st *store.Store, f store.Field, value string) {
	t.Helper()
	require.NoError(t, os.WriteFile(st.Path(f), []byte(value), 0o644))
}

func removeField(t *testing.T, st *store.Store, f store.Field) {
	t.Helper()
	require.NoError(t, os.Remove(st.Path(f)))
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ReadTimeout = 2 * time.Second
	cfg.WriteTimeout = 2 * time.Second
	return cfg
}

// newTestServer creates a server that is not listening, for tests that
// drive handlers directly.
func newTestServer(t *testing.T, st *store.Store, cfg Config) *Server {
	t.Helper()
	srv, err := NewServer(st, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

// startTestServer serves on a loopback port and returns the server and a
// client for it. The server is shut down when the test ends.
func startTestServer(t *testing.T, st *store.Store, cfg Config) (*Server, *Client) {
	t.Helper()

	srv, err := NewServer(st, cfg)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		select {
		case err := <-served:
			if !errors.Is(err, ErrServerClosed) {
				t.Errorf("Serve returned %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("Serve did not return after Shutdown")
		}
	})

	client := NewClient(ln.Addr().String(), ClientConfig{Timeout: 5 * time.Second})
	return srv, client
}

// serveMock runs one handler over a mock connection through the server's
// normal spawn and reap path and waits until it has been reaped.
func serveMock(t *testing.T, srv *Server, conn *testutils.ConnectionMock) {
	t.Helper()

	res, err := srv.slots.acquire(context.Background(), 0)
	require.NoError(t, err)

	srv.spawn(conn, res)

	require.Eventually(t, func() bool {
		return conn.IsClosed() && srv.ActiveHandlers() == 0
	}, 2*time.Second, time.Millisecond)
}

// rawExchange writes payload on a fresh connection and returns every byte
// the server sends before closing.
func rawExchange(t *testing.T, addr, payload string) string {
	t.Helper()

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	_, err = conn.Write([]byte(payload))
	require.NoError(t, err)

	var reply []byte
	buf := make([]byte, 256)
	for {
		n, err := conn.Read(buf)
		reply = append(reply, buf[:n]...)
		if err != nil {
			break
		}
	}
	return string(reply)
}

func chtimes(path string, t time.Time) error {
	return os.Chtimes(path, t, t)
}

func modTime(path string) (time.Time, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return fi.ModTime(), nil
}
