// Package store reads and writes the meter's persisted scalar fields.
//
// Each field lives in its own small text file inside one state directory.
// The files are shared with processes outside this module (the pulse counter
// owns the reading, the display reads all three) and nobody coordinates
// access. Writes replace a file atomically with a rename, so readers see
// either the old or the new value, never a partial one. There is no
// grouping across fields.
package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gasmeter/meterd/protocol"
	"github.com/google/renameio/v2"
)

// Field identifies one persisted scalar.
type Field int

const (
	Reading Field = iota
	RoomNumber
	SerialNumber
)

// Fields lists every field.
var Fields = []Field{Reading, RoomNumber, SerialNumber}

// DefaultFileMode is used for files created by a write.
const DefaultFileMode fs.FileMode = 0o644

func (f Field) String() string {
	switch f {
	case Reading:
		return "reading"
	case RoomNumber:
		return "roomNumber"
	case SerialNumber:
		return "serialNumber"
	default:
		return "field(" + strconv.Itoa(int(f)) + ")"
	}
}

// FileName is the name of the field's file inside the state directory.
// The names are shared with the pulse counter and display processes.
func (f Field) FileName() string {
	switch f {
	case Reading:
		return "meterreading"
	case RoomNumber:
		return "roomno"
	case SerialNumber:
		return "serialnumber"
	default:
		return ""
	}
}

// Store gives access to the fields under one directory. It holds no state
// besides its configuration and is safe for concurrent use.
type Store struct {
	dir    string
	perm   fs.FileMode
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithFileMode sets the permissions of files created by a write.
func WithFileMode(perm fs.FileMode) Option {
	return func(s *Store) {
		s.perm = perm
	}
}

// WithLogger sets the logger used for debug output.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Open returns a Store for dir. The directory must exist; the field files
// need not.
func Open(dir string, opts ...Option) (*Store, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("store: open %s: not a directory", dir)
	}

	s := &Store{
		dir:    dir,
		perm:   DefaultFileMode,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Path returns the file backing f.
func (s *Store) Path(f Field) string {
	return filepath.Join(s.dir, f.FileName())
}

// ReadToken returns the first whitespace-delimited token of the field's
// file, or "" when the file is empty.
func (s *Store) ReadToken(ctx context.Context, f Field) (string, error) {
	data, err := s.readFile(ctx, f)
	if err != nil {
		return "", err
	}
	return firstToken(data), nil
}

// readFile returns the raw content of the field's file.
func (s *Store) readFile(ctx context.Context, f Field) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.FileName() == "" {
		return nil, &FieldError{Field: f, Op: "read", Err: ErrUnknownField}
	}

	path := s.Path(f)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &FieldError{Field: f, Op: "read", Path: path, Err: err}
	}
	return data, nil
}

func firstToken(data []byte) string {
	tokens := strings.Fields(string(data))
	if len(tokens) == 0 {
		return ""
	}
	return tokens[0]
}

// ReadReading returns the meter reading in cubic metres. An empty file reads
// as zero; a value that is not a number is a *ParseError.
func (s *Store) ReadReading(ctx context.Context) (float64, error) {
	token, err := s.ReadToken(ctx, Reading)
	if err != nil {
		return 0, err
	}
	if token == "" {
		return 0, nil
	}
	return parseReading(token)
}

// ReadRoomNumber returns the room number token.
func (s *Store) ReadRoomNumber(ctx context.Context) (string, error) {
	return s.ReadToken(ctx, RoomNumber)
}

// ReadSerialNumber returns the meter serial number token.
func (s *Store) ReadSerialNumber(ctx context.Context) (string, error) {
	return s.ReadToken(ctx, SerialNumber)
}

// Write replaces the field's file with value. The replacement is atomic:
// the data goes to a temporary file in the same directory which is then
// renamed over the original. A write that would not change the content is
// skipped so the file's modification time only moves on real changes.
func (s *Store) Write(ctx context.Context, f Field, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.FileName() == "" {
		return &FieldError{Field: f, Op: "write", Err: ErrUnknownField}
	}

	path := s.Path(f)
	if current, err := os.ReadFile(path); err == nil && bytes.Equal(current, []byte(value)) {
		s.logger.Debug("store: write skipped, value unchanged", "field", f.String())
		return nil
	}

	err := renameio.WriteFile(path, []byte(value), s.perm, renameio.WithExistingPermissions())
	if err != nil {
		return &FieldError{Field: f, Op: "write", Path: path, Err: err}
	}

	s.logger.Debug("store: field written", "field", f.String(), "bytes", len(value))
	return nil
}

// WriteReading stores v formatted as it appears on the wire.
func (s *Store) WriteReading(ctx context.Context, v float64) error {
	if v < 0 {
		return &FieldError{Field: Reading, Op: "write", Err: ErrNegativeReading}
	}
	return s.Write(ctx, Reading, protocol.FormatReading(v))
}

// WriteRoomNumber stores the room number verbatim.
func (s *Store) WriteRoomNumber(ctx context.Context, value string) error {
	return s.Write(ctx, RoomNumber, value)
}

// WriteSerialNumber stores the serial number verbatim.
func (s *Store) WriteSerialNumber(ctx context.Context, value string) error {
	return s.Write(ctx, SerialNumber, value)
}

// Snapshot reads every field. Fields are read one after the other, so the
// result is not a consistent cut if another process writes concurrently.
func (s *Store) Snapshot(ctx context.Context) (State, error) {
	var st State
	var errs []error

	reading, err := s.ReadReading(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	st.Reading = reading

	if st.RoomNumber, err = s.ReadRoomNumber(ctx); err != nil {
		errs = append(errs, err)
	}
	if st.SerialNumber, err = s.ReadSerialNumber(ctx); err != nil {
		errs = append(errs, err)
	}

	return st, errors.Join(errs...)
}

// State is the in-memory view of all fields.
type State struct {
	Reading      float64
	RoomNumber   string
	SerialNumber string
}

func parseReading(token string) (float64, error) {
	v, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return 0, &ParseError{Field: Reading, Value: token, Err: err}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &ParseError{Field: Reading, Value: token, Err: ErrNotFinite}
	}
	return v, nil
}
