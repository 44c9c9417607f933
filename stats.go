package meterd

import (
	"sync/atomic"

	"github.com/gasmeter/meterd/protocol"
)

// SlotStats describes the handler slot pool.
//
// For Prometheus integration, expose these as:
//   - Gauges: TotalSlots, IdleSlots, ActiveSlots
//   - Counters: AcquireCount, AcquireWaitCount, AcquireErrors
//   - Counter: AcquireWaitTimeNs (seconds spent waiting for a slot)
type SlotStats struct {
	AcquireCount      uint64 // Slots handed to connections
	AcquireWaitCount  uint64 // Acquires that found no idle slot
	AcquireErrors     uint64 // Acquires that gave up
	AcquireWaitTimeNs uint64 // Total nanoseconds spent waiting

	TotalSlots  int32
	IdleSlots   int32
	ActiveSlots int32
}

// ServerStats contains statistics about the server.
// All counters are cumulative since the server was created.
type ServerStats struct {
	Accepted        uint64 // Connections accepted
	Rejected        uint64 // Connections answered with "Server Busy"
	Completed       uint64 // Handlers reaped after their exchange
	AcceptErrors    uint64 // Failed Accept calls
	TransportErrors uint64 // Failed reads or writes on a connection
	StoreErrors     uint64 // Requests answered with an error reply

	// Commands counts requests per verb name ("getReading", "unknown", ...).
	Commands map[string]uint64

	// ActiveHandlers is the size of the handler registry when the snapshot
	// was taken.
	ActiveHandlers int

	Slots SlotStats
}

// serverStatsCollector provides internal methods for updating server stats.
type serverStatsCollector struct {
	accepted        atomic.Uint64
	rejected        atomic.Uint64
	completed       atomic.Uint64
	acceptErrors    atomic.Uint64
	transportErrors atomic.Uint64
	storeErrors     atomic.Uint64

	// indexed by commandIndex: the six verbs, then unknown
	commands [7]atomic.Uint64
}

func newServerStatsCollector() *serverStatsCollector {
	return &serverStatsCollector{}
}

func commandIndex(v protocol.Verb) int {
	for i, known := range protocol.Verbs {
		if v == known {
			return i
		}
	}
	return len(protocol.Verbs)
}

func (c *serverStatsCollector) recordAccept()         { c.accepted.Add(1) }
func (c *serverStatsCollector) recordReject()         { c.rejected.Add(1) }
func (c *serverStatsCollector) recordComplete()       { c.completed.Add(1) }
func (c *serverStatsCollector) recordAcceptError()    { c.acceptErrors.Add(1) }
func (c *serverStatsCollector) recordTransportError() { c.transportErrors.Add(1) }
func (c *serverStatsCollector) recordStoreError()     { c.storeErrors.Add(1) }

func (c *serverStatsCollector) recordCommand(v protocol.Verb) {
	c.commands[commandIndex(v)].Add(1)
}

func (c *serverStatsCollector) snapshot() ServerStats {
	commands := make(map[string]uint64, len(c.commands))
	for i, verb := range protocol.Verbs {
		commands[verb.Name()] = c.commands[i].Load()
	}
	commands[protocol.VerbUnknown.Name()] = c.commands[len(protocol.Verbs)].Load()

	return ServerStats{
		Accepted:        c.accepted.Load(),
		Rejected:        c.rejected.Load(),
		Completed:       c.completed.Load(),
		AcceptErrors:    c.acceptErrors.Load(),
		TransportErrors: c.transportErrors.Load(),
		StoreErrors:     c.storeErrors.Load(),
		Commands:        commands,
	}
}
