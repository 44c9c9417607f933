package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/zeebo/xxh3"
)

// DefaultPollInterval is how often a Poller looks at the reading by default.
const DefaultPollInterval = time.Second

// Poller watches the reading field and reports each new value.
//
// The pulse counter rewrites the reading file in place, so a poll may hit
// an empty, missing or half-written file. Such polls are treated as "no
// update": the previous value stays current and nothing is reported.
type Poller struct {
	store    *Store
	interval time.Duration
	logger   *slog.Logger
}

// NewPoller returns a Poller reading from s every interval. A zero interval
// selects DefaultPollInterval.
func NewPoller(s *Store, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		store:    s,
		interval: interval,
		logger:   s.logger,
	}
}

// Run polls until ctx is done, calling fn with the first valid reading and
// then with every reading that differs from the previous one. fn runs on
// the polling goroutine.
//
// Polls whose raw file content hashes the same as the previous poll are
// skipped without parsing, so a file stuck on a bad value is logged once.
func (p *Poller) Run(ctx context.Context, fn func(float64)) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var (
		last  float64
		seen  bool
		state pollState
	)
	poll := func() {
		v, ok := p.poll(ctx, &state)
		if !ok || (seen && v == last) {
			return
		}
		last, seen = v, true
		fn(v)
	}

	poll()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			poll()
		}
	}
}

// pollState remembers the digest of the last raw content seen.
type pollState struct {
	digest uint64
	hashed bool
}

// unchanged records data and reports whether it matches the previous poll.
func (st *pollState) unchanged(data []byte) bool {
	sum := xxh3.Hash(data)
	if st.hashed && sum == st.digest {
		return true
	}
	st.digest, st.hashed = sum, true
	return false
}

func (p *Poller) poll(ctx context.Context, st *pollState) (float64, bool) {
	data, err := p.store.readFile(ctx, Reading)
	if err != nil {
		// A missing file must be noticed when it comes back with the old
		// content.
		st.hashed = false
		if ctx.Err() == nil {
			p.logger.Debug("store: poll skipped", "field", Reading.String(), "error", err)
		}
		return 0, false
	}
	if st.unchanged(data) {
		return 0, false
	}

	token := firstToken(data)
	if token == "" {
		return 0, false
	}

	v, err := parseReading(token)
	if err != nil {
		p.logger.Debug("store: poll skipped", "field", Reading.String(), "error", err)
		return 0, false
	}
	return v, true
}
