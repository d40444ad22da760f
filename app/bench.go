package app

import (
	"errors"
	"log/slog"
	"strconv"

	"github.com/bonnefoa/pgcachectl/bench"
	"github.com/bonnefoa/pgcachectl/config"
	"github.com/bonnefoa/pgcachectl/decompress"
	"github.com/spf13/cobra"
)

var benchHeader = []string{"Mode", "Iterations", "Average", "Min", "Max", "PageCached", "PageCount"}

func newBenchCmd(s *session) *cobra.Command {
	var (
		iterations   int
		skipPopulate bool
		format       string
	)
	cmd := &cobra.Command{
		Use:   "bench FILE SOURCE",
		Short: "Compare read latency of FILE with a cold, warm and populated cache",
		Long: `Measure the time to read one byte per page of FILE through a private mapping.
Cold runs drop the cached pages first, populate runs drop them then publish
SOURCE through the control device. SOURCE should hold the content of FILE and
may be compressed with gzip or xz.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := ParseFormat(format)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("iterations") {
				iterations = s.cfg.Bench.Iterations
			}
			source, err := decompress.Load(args[1])
			if err != nil {
				return err
			}

			h := &bench.Harness{
				Path:       args[0],
				Source:     source,
				Iterations: iterations,
				PageSize:   int(s.cfg.PageSize),
			}
			if !skipPopulate {
				if s.cfg.Device == config.LocalDevice {
					return errors.New("populate runs need the kernel device: the local device doesn't fill the kernel page cache, use --skip_populate")
				}
				conn, _, err := s.connect()
				if err != nil {
					return err
				}
				defer conn.Close()
				h.Injector = conn
			}

			slog.Info("Starting benchmark", "file", args[0], "iterations", iterations, "populate", !skipPopulate)
			results, err := h.Run(cmd.Context())
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(results))
			for _, r := range results {
				rows = append(rows, []string{r.Mode.String(), strconv.Itoa(r.Iterations),
					r.Average.String(), r.Min.String(), r.Max.String(),
					strconv.Itoa(r.Cached), strconv.Itoa(r.Pages)})
			}
			return writeRows(cmd.OutOrStdout(), out, benchHeader, rows, false)
		},
	}
	cmd.Flags().IntVar(&iterations, "iterations", 10, "Reads per mode")
	cmd.Flags().BoolVar(&skipPopulate, "skip_populate", false, "Only measure cold and warm reads, without the device")
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table, csv or json")
	return cmd
}
