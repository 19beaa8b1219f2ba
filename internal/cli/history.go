package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tandemlabs/tandem/internal/config"
	"github.com/tandemlabs/tandem/internal/op"
	"github.com/tandemlabs/tandem/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database string
	Limit    int
	Origin   string // optional - filter to one origin instance
	FilePath string // optional - filter to one file
	Kind     string // optional - filter to one operation kind
}

// HistoryEntry is one operation rendered for history output.
type HistoryEntry struct {
	OperationID   int64  `json:"operation_id"`
	Kind          string `json:"kind"`
	FilePath      string `json:"file_path"`
	Line          int    `json:"line,omitempty"`
	Column        int    `json:"column,omitempty"`
	ContentLength int    `json:"content_length"`
	Timestamp     string `json:"timestamp"`
	Origin        string `json:"origin_instance_id"`
	Undone        bool   `json:"undone,omitempty"`
	Redone        bool   `json:"redone,omitempty"`
}

// HistoryResult holds the complete history output.
type HistoryResult struct {
	DatabasePath string         `json:"database_path"`
	Count        int            `json:"count"`
	Operations   []HistoryEntry `json:"operations"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the operation log",
		Long: `Print the operation log from a history database, newest first.

Each entry shows the operation id, kind, file position, content size,
commit timestamp, and origin instance. Undone and redone entries stay
in the log and are flagged.

Examples:
  tandem history --db ./notes/.tandem/history.db
  tandem history --db ./notes/.tandem/history.db --limit 20
  tandem history --db ./notes/.tandem/history.db --path notes/plan.txt --kind insert
  tandem history --db ./notes/.tandem/history.db --origin tandem-3f2a --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to history database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum entries to print (0 = store bound)")
	cmd.Flags().StringVar(&opts.Origin, "origin", "", "filter to operations from one origin instance")
	cmd.Flags().StringVar(&opts.FilePath, "path", "", "filter to operations touching one file")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "filter to one operation kind (insert, delete, replace, meta, resource)")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	// Opening a missing path would create an empty database; reject it
	// up front instead.
	if _, err := os.Stat(opts.Database); err != nil {
		_ = formatter.Error(ErrCodeDatabase, "database not found", opts.Database)
		return NewExitError(ExitCommandError, fmt.Sprintf("database not found: %s", opts.Database))
	}

	formatter.VerboseLog("Reading history from %s", opts.Database)

	st, err := store.Open(opts.Database, config.DefaultMaxHistoryEntries)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	filter := store.Filter{
		FilePath: opts.FilePath,
		Origin:   opts.Origin,
	}
	if opts.Kind != "" {
		kind, err := op.ParseKind(opts.Kind)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid kind filter", err)
		}
		filter.Kind = kind
	}

	ops, err := st.Query(ctx, filter, opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read history", err)
	}

	result := HistoryResult{
		DatabasePath: opts.Database,
		Operations:   buildHistoryEntries(ops),
	}
	result.Count = len(result.Operations)

	if opts.Format == "json" {
		return outputHistoryJSON(cmd, result)
	}
	return outputHistoryText(cmd.OutOrStdout(), result, opts.Verbose)
}

// buildHistoryEntries converts log operations to display entries.
func buildHistoryEntries(ops []op.Operation) []HistoryEntry {
	entries := make([]HistoryEntry, 0, len(ops))
	for _, o := range ops {
		entries = append(entries, HistoryEntry{
			OperationID:   o.OperationID,
			Kind:          o.Kind.String(),
			FilePath:      o.FilePath,
			Line:          o.Line,
			Column:        o.Column,
			ContentLength: o.ContentLength,
			Timestamp:     time.Unix(0, o.TimestampNanos).UTC().Format(time.RFC3339Nano),
			Origin:        o.OriginInstanceID,
			Undone:        o.Undone,
			Redone:        o.Redone,
		})
	}
	return entries
}

// outputHistoryJSON outputs the history result as JSON.
func outputHistoryJSON(cmd *cobra.Command, result HistoryResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}

// outputHistoryText outputs the history result as text.
func outputHistoryText(w io.Writer, result HistoryResult, verbose bool) error {
	fmt.Fprintf(w, "History for %s (%d operations)\n", result.DatabasePath, result.Count)
	fmt.Fprintln(w)

	if len(result.Operations) == 0 {
		fmt.Fprintln(w, "  (no operations)")
		return nil
	}

	for _, e := range result.Operations {
		formatHistoryEntry(w, e, verbose)
	}
	return nil
}

// formatHistoryEntry formats a single history entry for text output.
func formatHistoryEntry(w io.Writer, e HistoryEntry, verbose bool) {
	fmt.Fprintf(w, "  [%d] %-7s %s", e.OperationID, e.Kind, e.FilePath)
	if e.Line > 0 || e.Column > 0 {
		fmt.Fprintf(w, ":%d:%d", e.Line, e.Column)
	}
	fmt.Fprintf(w, " (%dB)", e.ContentLength)
	if e.Undone {
		fmt.Fprint(w, " undone")
	}
	if e.Redone {
		fmt.Fprint(w, " redone")
	}
	fmt.Fprintln(w)

	if verbose {
		fmt.Fprintf(w, "       at %s by %s\n", e.Timestamp, truncateID(e.Origin))
	}
}

// truncateID truncates a long instance id for display.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "..." + id[len(id)-8:]
}
