// Command meterctl queries and updates a meterd server.
//
//	meterctl reading
//	meterctl room
//	meterctl room set B366
//	meterctl serial
//	meterctl raw 'getReading'
//	meterctl bench -n 200
package main

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/gasmeter/meterd"
	"github.com/gasmeter/meterd/protocol"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "meterctl:", err)
		os.Exit(1)
	}
}

type options struct {
	addr    string
	timeout time.Duration
}

func (o *options) client() *meterd.Client {
	return meterd.NewClient(o.addr, meterd.ClientConfig{Timeout: o.timeout})
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "meterctl",
		Short:         "Talk to a meterd server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.addr, "addr", "a", fmt.Sprintf("localhost:%d", protocol.DefaultPort), "server address")
	cmd.PersistentFlags().DurationVarP(&opts.timeout, "timeout", "t", 5*time.Second, "timeout per request")

	cmd.AddCommand(
		newReadingCommand(opts),
		newRoomCommand(opts),
		newSerialCommand(opts),
		newRawCommand(opts),
		newBenchCommand(opts),
	)
	return cmd
}

func newReadingCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reading",
		Short: "Print the meter reading in cubic metres",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := opts.client().GetReading(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), protocol.FormatReading(v))
			return nil
		},
	}
}

func newRoomCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "room",
		Short: "Print the room number",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			room, err := opts.client().GetRoomNumber(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), room)
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <room>",
		Short: "Assign the meter to a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			room, err := opts.client().SetRoomNumber(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), protocol.FormatRoomNo(room))
			return nil
		},
	})

	return cmd
}

func newSerialCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serial",
		Short: "Print the meter serial number",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sn, err := opts.client().GetSerialNumber(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sn)
			return nil
		},
	}
}

func newRawCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "raw <payload>",
		Short: "Send payload as is and print the reply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := opts.client().Raw(cmd.Context(), args[0])
			// Defined replies like "Unknown Command" are still printed.
			if err != nil && !protocol.IsDefinedReply(err) {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Payload)
			return nil
		},
	}
}

func newBenchCommand(opts *options) *cobra.Command {
	var n int

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Send n concurrent getReading requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if n <= 0 {
				return fmt.Errorf("-n must be > 0, got %d", n)
			}

			result := bench(cmd, opts.client(), n)
			result.print(cmd.OutOrStdout())
			if result.failures > 0 {
				return fmt.Errorf("%d of %d requests failed", result.failures, n)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "requests", "n", 50, "number of concurrent requests")
	return cmd
}

type benchResult struct {
	requests  int
	failures  int
	busy      int
	elapsed   time.Duration
	latencies []time.Duration
	errors    map[string]int
}

func bench(cmd *cobra.Command, client *meterd.Client, n int) *benchResult {
	result := &benchResult{
		requests:  n,
		latencies: make([]time.Duration, 0, n),
		errors:    make(map[string]int),
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	start := time.Now()
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			t0 := time.Now()
			_, err := client.GetReading(cmd.Context())
			latency := time.Since(t0)

			mu.Lock()
			defer mu.Unlock()
			result.latencies = append(result.latencies, latency)
			if err != nil {
				result.failures++
				result.errors[err.Error()]++
				if isBusy(err) {
					result.busy++
				}
			}
		}()
	}
	wg.Wait()
	result.elapsed = time.Since(start)

	sort.Slice(result.latencies, func(i, j int) bool {
		return result.latencies[i] < result.latencies[j]
	})
	return result
}
