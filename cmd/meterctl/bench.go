package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/gasmeter/meterd/protocol"
)

func isBusy(err error) bool {
	return errors.Is(err, protocol.ErrServerBusy)
}

func (r *benchResult) percentile(p float64) time.Duration {
	if len(r.latencies) == 0 {
		return 0
	}
	i := int(float64(len(r.latencies)-1) * p)
	return r.latencies[i]
}

func (r *benchResult) print(w io.Writer) {
	fmt.Fprintf(w, "Requests:  %d\n", r.requests)
	fmt.Fprintf(w, "Succeeded: %d\n", r.requests-r.failures)
	fmt.Fprintf(w, "Failed:    %d (busy: %d)\n", r.failures, r.busy)
	fmt.Fprintf(w, "Elapsed:   %v\n", r.elapsed.Round(time.Microsecond))
	fmt.Fprintf(w, "Latency:   p50=%v p99=%v max=%v\n",
		r.percentile(0.50).Round(time.Microsecond),
		r.percentile(0.99).Round(time.Microsecond),
		r.percentile(1).Round(time.Microsecond))

	if len(r.errors) == 0 {
		return
	}
	msgs := make([]string, 0, len(r.errors))
	for msg := range r.errors {
		msgs = append(msgs, msg)
	}
	sort.Strings(msgs)
	fmt.Fprintln(w, "Errors:")
	for _, msg := range msgs {
		fmt.Fprintf(w, "  %4d  %s\n", r.errors[msg], msg)
	}
}
