package meterd

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/gasmeter/meterd/protocol"
	"github.com/gasmeter/meterd/store"
	"github.com/jackc/puddle/v2"
)

// handler owns one accepted connection for its single exchange: one read,
// one reply, close. It signals completion exactly once by sending itself on
// the server's done channel; the reaper then drops it from the registry and
// releases its slot.
type handler struct {
	id      uint64
	srv     *Server
	conn    net.Conn
	slot    *puddle.Resource[*slot]
	started time.Time
}

func (h *handler) info() HandlerInfo {
	return HandlerInfo{
		ID:         h.id,
		RemoteAddr: h.conn.RemoteAddr().String(),
		Started:    h.started,
	}
}

func (h *handler) serve(ctx context.Context) {
	defer func() {
		_ = h.conn.Close()
		h.srv.done <- h
	}()

	logger := h.srv.logger.With("handler", h.id, "remote", h.conn.RemoteAddr().String())

	request, err := h.receive()
	if err != nil {
		if errors.Is(err, io.EOF) {
			logger.Debug("meterd: client closed before sending a request")
			return
		}
		h.srv.stats.recordTransportError()
		logger.Warn("meterd: read failed", "error", err)
		return
	}

	cmd := protocol.Parse(request)
	h.srv.stats.recordCommand(cmd.Verb)
	logger.Debug("meterd: received", "request", cmd.Raw, "verb", cmd.Verb.Name())

	reply := h.dispatch(ctx, logger, cmd)

	if err := h.send(reply); err != nil {
		h.srv.stats.recordTransportError()
		logger.Warn("meterd: write failed", "error", err)
		return
	}
	logger.Debug("meterd: sent", "reply", reply)
}

// receive performs the connection's only read. Whatever arrives in that
// read, up to protocol.MaxPayload bytes, is the request.
func (h *handler) receive() ([]byte, error) {
	if d := h.srv.cfg.ReadTimeout; d > 0 {
		_ = h.conn.SetReadDeadline(time.Now().Add(d))
	}

	buf := h.slot.Value().buf
	n, err := h.conn.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err == nil {
		err = io.ErrNoProgress
	}
	return nil, err
}

func (h *handler) send(reply string) error {
	if d := h.srv.cfg.WriteTimeout; d > 0 {
		_ = h.conn.SetWriteDeadline(time.Now().Add(d))
	}
	_, err := io.WriteString(h.conn, reply)
	return err
}

// dispatch maps a command to its reply. Store failures become an error
// reply for this request only.
func (h *handler) dispatch(ctx context.Context, logger *slog.Logger, cmd protocol.Command) string {
	switch cmd.Verb {
	case protocol.VerbGetReading:
		return h.field(logger, store.Reading, func() (string, error) {
			v, err := h.srv.store.ReadReading(ctx)
			if err != nil {
				return "", err
			}
			return protocol.FormatReading(v), nil
		})

	case protocol.VerbGetRoomNo:
		return h.field(logger, store.RoomNumber, func() (string, error) {
			return h.srv.store.ReadRoomNumber(ctx)
		})

	case protocol.VerbSetRoomNo:
		return h.field(logger, store.RoomNumber, func() (string, error) {
			if err := h.srv.store.WriteRoomNumber(ctx, cmd.Arg); err != nil {
				return "", err
			}
			return protocol.FormatRoomNo(cmd.Arg), nil
		})

	case protocol.VerbGetMeterSN:
		return h.field(logger, store.SerialNumber, func() (string, error) {
			return h.srv.store.ReadSerialNumber(ctx)
		})

	case protocol.VerbSetMeterSN, protocol.VerbGetReadings:
		return protocol.NotImplemented

	default:
		return protocol.UnknownCommand
	}
}

func (h *handler) field(logger *slog.Logger, f store.Field, fn func() (string, error)) string {
	reply, err := h.srv.guard(f, fn)
	if err != nil {
		h.srv.stats.recordStoreError()
		logger.Error("meterd: state field unavailable", "field", f.String(), "error", err)
		return protocol.FormatError(f.String() + " unavailable")
	}
	return reply
}
