package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/syspulse/internal/logging"
	"github.com/spf13/cobra"
)

var (
	logsCount  int
	logsJSON   bool
	logsErrors bool
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show the newest log records",
	Long: `Logs prints the newest records from the syspulse log directory, newest
first.

Examples:
  # Last 50 records
  syspulse logs

  # Last 10 error records as JSON
  syspulse logs --errors --count 10 --json`,
	RunE: runLogs,
}

func init() {
	logsCmd.Flags().IntVarP(&logsCount, "count", "n", logging.DefaultRecentCount, "number of records")
	logsCmd.Flags().BoolVar(&logsJSON, "json", false, "print records as JSON")
	logsCmd.Flags().BoolVar(&logsErrors, "errors", false, "read the error log instead of the main log")
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	prefix := cfg.Logging.File.Prefix
	if logsErrors {
		prefix = cfg.Logging.ErrorFile.Prefix
	}

	entries, err := logging.ReadRecent(cfg.Logging.Dir, prefix, logsCount)
	if err != nil {
		return fmt.Errorf("failed to read logs: %w", err)
	}

	out := cmd.OutOrStdout()
	if logsJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	if len(entries) == 0 {
		fmt.Fprintf(out, "No log records in %s\n", cfg.Logging.Dir)
		return nil
	}
	for _, e := range entries {
		printEntry(out, e)
	}
	return nil
}

func printEntry(w io.Writer, e logging.Entry) {
	var b strings.Builder
	if e.Timestamp != "" {
		b.WriteString(e.Timestamp)
		b.WriteByte(' ')
	}
	fmt.Fprintf(&b, "%-5s %s", strings.ToUpper(e.Level), e.Message)

	keys := make([]string, 0, len(e.Attributes))
	for k := range e.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.Attributes[k])
	}
	fmt.Fprintln(w, b.String())
	if e.Stack != "" {
		fmt.Fprintln(w, e.Stack)
	}
}
