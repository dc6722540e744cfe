package cmd

import (
	"github.com/lfarias/goping/core"
	"github.com/spf13/cobra"
)

var settings = core.DefaultSettings()

var rootCmd = &cobra.Command{
	Use:   "goping [host]",
	Short: "goping is an ICMP echo (ping) client",
	Long: "goping sends ICMP echo requests to a target host over a raw socket,\n" +
		"matches the replies back to the requests and reports round-trip statistics.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		runner, err := newRunner(args[0], settings)
		if err != nil {
			return err
		}

		runner.Start()
		return runner.Wait()
	},
}

func init() {
	rootCmd.Flags().IntVarP(&settings.Count, "count", "c", settings.Count,
		"stop after sending this many echo requests (0 means no limit)")
	rootCmd.Flags().DurationVarP(&settings.Interval, "interval", "i", settings.Interval,
		"wait between sending each request")
	rootCmd.Flags().DurationVarP(&settings.Timeout, "timeout", "W", settings.Timeout,
		"time to wait for each reply")
	rootCmd.Flags().IntVarP(&settings.TTL, "ttl", "t", settings.TTL,
		"IP time to live of outgoing requests")
	rootCmd.Flags().IntVarP(&settings.PayloadSize, "size", "s", settings.PayloadSize,
		"number of payload bytes to send")
	rootCmd.Flags().BoolVarP(&settings.Verbose, "verbose", "v", false,
		"log session internals")
	rootCmd.Flags().BoolVarP(&settings.Flood, "flood", "f", false,
		"flood-style output, one dot per request")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
