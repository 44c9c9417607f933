package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	return s
}

func writeRaw(t *testing.T, s *Store, f Field, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(s.Path(f), []byte(content), 0o644))
}

func TestOpen(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = Open(file)
	require.Error(t, err)
}

func TestFieldNames(t *testing.T) {
	assert.Equal(t, "meterreading", Reading.FileName())
	assert.Equal(t, "roomno", RoomNumber.FileName())
	assert.Equal(t, "serialnumber", SerialNumber.FileName())
	assert.Equal(t, "reading", Reading.String())
	assert.Equal(t, "field(7)", Field(7).String())
}

func TestReadReading(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tests := []struct {
		name    string
		content string
		want    float64
	}{
		{name: "two decimals", content: "123.40", want: 123.40},
		{name: "three decimals from pulse counter", content: "123.456", want: 123.456},
		{name: "trailing newline", content: "5.00\n", want: 5},
		{name: "surrounding whitespace", content: "  7.25  \n", want: 7.25},
		{name: "first token only", content: "1.50 2.50", want: 1.5},
		{name: "empty reads as zero", content: "", want: 0},
		{name: "whitespace reads as zero", content: " \n", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writeRaw(t, s, Reading, tt.content)
			got, err := s.ReadReading(ctx)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestReadReading_NotANumber(t *testing.T) {
	s := newTestStore(t)
	writeRaw(t, s, Reading, "abc")

	_, err := s.ReadReading(context.Background())
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, Reading, pe.Field)
	assert.Equal(t, "abc", pe.Value)
}

func TestReadReading_NotFinite(t *testing.T) {
	s := newTestStore(t)

	for _, content := range []string{"NaN", "+Inf", "-inf"} {
		writeRaw(t, s, Reading, content)
		_, err := s.ReadReading(context.Background())
		assert.ErrorIs(t, err, ErrNotFinite, content)
	}
}

func TestReadToken_Missing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.ReadRoomNumber(context.Background())
	var fe *FieldError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, RoomNumber, fe.Field)
	assert.Equal(t, "read", fe.Op)
	assert.True(t, IsMissing(err))
}

func TestReadToken_CanceledContext(t *testing.T) {
	s := newTestStore(t)
	writeRaw(t, s, RoomNumber, "B366")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.ReadRoomNumber(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestReadToken_UnknownField(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ReadToken(context.Background(), Field(42))
	require.ErrorIs(t, err, ErrUnknownField)
}

func TestWriteRoomNumber_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.WriteRoomNumber(ctx, "B366"))

	got, err := s.ReadRoomNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, "B366", got)

	raw, err := os.ReadFile(s.Path(RoomNumber))
	require.NoError(t, err)
	assert.Equal(t, "B366", string(raw))
}

func TestWriteReading_Format(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.WriteReading(ctx, 123.4))

	raw, err := os.ReadFile(s.Path(Reading))
	require.NoError(t, err)
	assert.Equal(t, "123.40", string(raw))

	err = s.WriteReading(ctx, -1)
	require.ErrorIs(t, err, ErrNegativeReading)
}

func TestWrite_ReplacesFile(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	writeRaw(t, s, RoomNumber, "A100-with-a-much-longer-old-value")

	require.NoError(t, s.WriteRoomNumber(ctx, "B1"))

	raw, err := os.ReadFile(s.Path(RoomNumber))
	require.NoError(t, err)
	assert.Equal(t, "B1", string(raw))

	entries, err := os.ReadDir(filepath.Dir(s.Path(RoomNumber)))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files left behind")
}

func TestWrite_KeepsPermissions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	writeRaw(t, s, SerialNumber, "SN1")
	require.NoError(t, os.Chmod(s.Path(SerialNumber), 0o600))

	require.NoError(t, s.WriteSerialNumber(ctx, "SN2"))

	info, err := os.Stat(s.Path(SerialNumber))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestWrite_SkipsUnchangedValue(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	writeRaw(t, s, RoomNumber, "B366")

	old := time.Now().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(s.Path(RoomNumber), old, old))

	require.NoError(t, s.WriteRoomNumber(ctx, "B366"))
	info, err := os.Stat(s.Path(RoomNumber))
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(old), "unchanged write must not touch the file")

	require.NoError(t, s.WriteRoomNumber(ctx, "B367"))
	info, err = os.Stat(s.Path(RoomNumber))
	require.NoError(t, err)
	assert.True(t, info.ModTime().After(old))
}

func TestWrite_ConcurrentReadersSeeWholeValues(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	values := []string{"AAAAAAAAAAAAAAAA", "BB"}
	require.NoError(t, s.WriteRoomNumber(ctx, values[0]))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	errs := make(chan string, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			_ = s.WriteRoomNumber(ctx, values[i%2])
		}
	}()

	for i := 0; i < 500; i++ {
		got, err := s.ReadRoomNumber(ctx)
		require.NoError(t, err)
		if got != values[0] && got != values[1] {
			select {
			case errs <- got:
			default:
			}
		}
	}
	close(stop)
	wg.Wait()

	select {
	case got := <-errs:
		t.Fatalf("reader observed partial value %q", got)
	default:
	}
}

func TestSnapshot(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	writeRaw(t, s, Reading, "10.50")
	writeRaw(t, s, RoomNumber, "B366")

	st, err := s.Snapshot(ctx)
	require.Error(t, err, "serial number file is missing")
	assert.True(t, IsMissing(err))
	assert.InDelta(t, 10.5, st.Reading, 1e-9)
	assert.Equal(t, "B366", st.RoomNumber)
	assert.Empty(t, st.SerialNumber)

	writeRaw(t, s, SerialNumber, "G4-0001")
	st, err = s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, State{Reading: 10.5, RoomNumber: "B366", SerialNumber: "G4-0001"}, st)
}
