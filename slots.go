package meterd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gasmeter/meterd/protocol"
	"github.com/jackc/puddle/v2"
)

// errNoSlot is returned when no handler slot became free in time.
var errNoSlot = errors.New("meterd: no handler slot available")

// slot is what a handler holds for its whole life: a permit counted against
// Config.MaxConns and the buffer its request is read into.
type slot struct {
	buf []byte
}

// slotPool bounds the number of live handlers. Every slot is created up
// front so an acquire only fails when all of them are in use.
type slotPool struct {
	pool *puddle.Pool[*slot]
}

func newSlotPool(maxSize int32) (*slotPool, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("meterd: MaxConns must be > 0, got %d", maxSize)
	}

	pool, err := puddle.NewPool(&puddle.Config[*slot]{
		Constructor: func(ctx context.Context) (*slot, error) {
			return &slot{buf: make([]byte, protocol.MaxPayload)}, nil
		},
		Destructor: func(*slot) {},
		MaxSize:    maxSize,
	})
	if err != nil {
		return nil, err
	}

	for range maxSize {
		if err := pool.CreateResource(context.Background()); err != nil {
			pool.Close()
			return nil, err
		}
	}

	return &slotPool{pool: pool}, nil
}

// acquire takes a free slot, waiting at most wait for one. A zero wait
// never blocks.
func (p *slotPool) acquire(ctx context.Context, wait time.Duration) (*puddle.Resource[*slot], error) {
	if wait <= 0 {
		res, err := p.pool.TryAcquire(ctx)
		if errors.Is(err, puddle.ErrNotAvailable) {
			return nil, errNoSlot
		}
		return res, err
	}

	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	res, err := p.pool.Acquire(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, errNoSlot
	}
	return res, err
}

// close destroys all slots. It blocks until every acquired slot has been
// released.
func (p *slotPool) close() {
	p.pool.Close()
}

func (p *slotPool) stats() SlotStats {
	s := p.pool.Stat()
	return SlotStats{
		AcquireCount:      uint64(s.AcquireCount()),
		AcquireWaitCount:  uint64(s.EmptyAcquireCount()),
		AcquireErrors:     uint64(s.CanceledAcquireCount()),
		AcquireWaitTimeNs: uint64(s.EmptyAcquireWaitTime().Nanoseconds()),
		TotalSlots:        s.TotalResources(),
		IdleSlots:         s.IdleResources(),
		ActiveSlots:       s.AcquiredResources(),
	}
}
