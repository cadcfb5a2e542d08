package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/alecgard/logdesk/internal/config"
	"github.com/alecgard/logdesk/internal/console"
	"github.com/alecgard/logdesk/internal/logclient"
)

var logsFlags struct {
	role   string
	page   int
	output string
	before string
	sortBy string

	filters map[string]*string
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Browse, total and export usage logs from a logdesk server",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))
	},
}

var logsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print one page of logs matching the filters",
	Args:  cobra.NoArgs,
	RunE:  runLogsList,
}

var logsStatCmd = &cobra.Command{
	Use:   "stat",
	Short: "Print total quota and tokens for the filters",
	Args:  cobra.NoArgs,
	RunE:  runLogsStat,
}

var logsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export logs matching the filters as CSV",
	Args:  cobra.NoArgs,
	RunE:  runLogsExport,
}

var logsBrowseCmd = &cobra.Command{
	Use:   "browse",
	Short: "Page through logs interactively",
	Args:  cobra.NoArgs,
	RunE:  runLogsBrowse,
}

var logsSearchCmd = &cobra.Command{
	Use:   "search KEYWORD",
	Short: "Search logs by type or content prefix",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogsSearch,
}

var logsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete logs created before a time (admin)",
	Args:  cobra.NoArgs,
	RunE:  runLogsPurge,
}

// filterFlags maps command-line flags to console filter fields.
var filterFlags = []struct {
	flag  string
	field string
	usage string
}{
	{"username", console.FieldUsername, "filter by username (admin)"},
	{"token-name", console.FieldTokenName, "filter by token name"},
	{"model-name", console.FieldModelName, "filter by model name"},
	{"channel", console.FieldChannel, "filter by channel id (admin)"},
	{"type", console.FieldLogType, "log type: 0 all, 1 topup, 2 consume, 3 manage, 4 system"},
	{"start", console.FieldStart, "start time, " + console.DisplayLayout},
	{"end", console.FieldEnd, "end time, " + console.DisplayLayout},
}

func init() {
	logsFlags.filters = make(map[string]*string, len(filterFlags))

	pf := logsCmd.PersistentFlags()
	pf.StringVar(&logsFlags.role, "role", "", "admin or self (default: console.role from config)")
	for _, f := range filterFlags {
		logsFlags.filters[f.field] = pf.String(f.flag, "", f.usage)
	}

	logsListCmd.Flags().IntVar(&logsFlags.page, "page", 1, "1-based page to print")
	logsListCmd.Flags().StringVar(&logsFlags.sortBy, "sort", "", "column field to sort the fetched rows by")
	logsExportCmd.Flags().StringVarP(&logsFlags.output, "output", "o", console.ExportFileName, `output file, "-" for stdout`)
	logsPurgeCmd.Flags().StringVar(&logsFlags.before, "before", "", "delete logs created before this time, "+console.DisplayLayout)
	_ = logsPurgeCmd.MarkFlagRequired("before")

	logsCmd.AddCommand(logsListCmd, logsStatCmd, logsExportCmd, logsBrowseCmd, logsSearchCmd, logsPurgeCmd)
	rootCmd.AddCommand(logsCmd)
}

// consoleEnv bundles what the console commands share.
type consoleEnv struct {
	client *logclient.Client
	table  *console.Table
	loc    *time.Location
}

// newConsoleEnv loads the console config and builds a table over a logclient.
// notify may be nil; one-shot commands report failures through their return
// value instead.
func newConsoleEnv(notify func(msg string)) (*consoleEnv, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if cfg.Console.Token == "" {
		return nil, errors.New("no API token: set console.token or LOGDESK_TOKEN")
	}

	roleName := cfg.Console.Role
	if logsFlags.role != "" {
		roleName = logsFlags.role
	}
	role, err := console.ParseRole(roleName)
	if err != nil {
		return nil, err
	}
	loc, err := config.Location(cfg.Console.Timezone)
	if err != nil {
		return nil, err
	}

	client := logclient.New(cfg.Console.BaseURL, cfg.Console.Token, logclient.Options{
		Timeout: cfg.Console.Timeout,
		Rate:    cfg.Console.Rate,
		Burst:   cfg.Console.Burst,
	})
	table := console.NewTable(client, console.Options{
		Role:        role,
		PageSize:    cfg.Console.PageSize,
		ExportLimit: cfg.Console.ExportLimit,
		Location:    loc,
		Notify:      notify,
	})

	for field, v := range logsFlags.filters {
		if *v == "" {
			continue
		}
		if err := table.SetField(field, *v); err != nil {
			return nil, err
		}
	}

	return &consoleEnv{client: client, table: table, loc: loc}, nil
}

func runLogsList(cmd *cobra.Command, args []string) error {
	env, err := newConsoleEnv(nil)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if err := env.table.Activate(ctx); err != nil {
		return err
	}
	// Walk forward so pages beyond the first are fetched in order.
	for p := 2; p <= logsFlags.page; p++ {
		if err := env.table.ChangePage(ctx, p); err != nil {
			return err
		}
	}
	if logsFlags.sortBy != "" {
		env.table.SortBy(logsFlags.sortBy)
	}

	return renderPage(cmd.OutOrStdout(), env.table)
}

func runLogsStat(cmd *cobra.Command, args []string) error {
	env, err := newConsoleEnv(nil)
	if err != nil {
		return err
	}
	st, err := env.table.RefreshStat(cmd.Context())
	if err != nil {
		return err
	}
	renderStat(cmd.OutOrStdout(), st.Quota, st.Token)
	return nil
}

func runLogsExport(cmd *cobra.Command, args []string) error {
	env, err := newConsoleEnv(nil)
	if err != nil {
		return err
	}

	if logsFlags.output == "-" {
		_, err := env.table.Export(cmd.Context(), cmd.OutOrStdout())
		return err
	}

	n, err := exportToFile(cmd.Context(), env.table, logsFlags.output)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "exported %d records to %s\n", n, logsFlags.output)
	return nil
}

func runLogsBrowse(cmd *cobra.Command, args []string) error {
	rep := &errorReporter{out: cmd.OutOrStdout()}
	env, err := newConsoleEnv(rep.notify)
	if err != nil {
		return err
	}
	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	return browse(cmd.Context(), env.table, rep, cmd.InOrStdin(), cmd.OutOrStdout(), interactive)
}

func runLogsSearch(cmd *cobra.Command, args []string) error {
	env, err := newConsoleEnv(nil)
	if err != nil {
		return err
	}

	path := console.SelfLogsPath + "search"
	if env.table.Role() == console.RoleAdmin {
		path = console.AdminLogsPath + "search"
	}
	recs, err := env.client.Search(cmd.Context(), path, args[0])
	if err != nil {
		return fmt.Errorf("searching logs: %w", err)
	}

	rows := make([]console.Row, len(recs))
	for i, rec := range recs {
		rows[i] = console.NewRow(rec, env.loc)
	}
	return renderRows(cmd.OutOrStdout(), env.table.Columns(), rows)
}

func runLogsPurge(cmd *cobra.Command, args []string) error {
	env, err := newConsoleEnv(nil)
	if err != nil {
		return err
	}
	ts, ok := console.ParseLocal(logsFlags.before, env.loc)
	if !ok {
		return fmt.Errorf("invalid --before %q: want %s", logsFlags.before, console.DisplayLayout)
	}

	n, err := env.client.DeleteBefore(cmd.Context(), ts)
	if err != nil {
		return fmt.Errorf("purging logs: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %d logs created before %s\n", n, console.FormatTimestamp(ts, env.loc))
	return nil
}

func exportToFile(ctx context.Context, t *console.Table, path string) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", path, err)
	}
	n, err := t.Export(ctx, f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("closing %s: %w", path, cerr)
	}
	return n, err
}

// renderPage prints the visible rows of the active page and a page footer.
func renderPage(w io.Writer, t *console.Table) error {
	if err := renderRows(w, t.Columns(), t.VisibleRows()); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "page %d of %d\n", t.ActivePage(), t.TotalPages())
	return err
}

func renderRows(w io.Writer, cols []console.Column, rows []console.Row) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	titles := make([]string, len(cols))
	for i, c := range cols {
		titles[i] = c.Title
	}
	fmt.Fprintln(tw, strings.Join(titles, "\t"))

	cells := make([]string, len(cols))
	for _, r := range rows {
		for i, c := range cols {
			cells[i] = r.Display(c.Field)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	return tw.Flush()
}

func renderStat(w io.Writer, quota, tokens int64) {
	fmt.Fprintf(w, "quota:  %s\ntokens: %d\n", console.RenderQuota(quota, 2), tokens)
}
