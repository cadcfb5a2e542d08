package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/alecgard/logdesk/internal/console"
)

const browseHelp = `commands:
  n, p            next / previous page
  g N             go to page N
  s FIELD         sort fetched rows by a column field (repeat to reverse)
  f FIELD=VALUE   set a filter, then r to apply
  filters         show the current filters
  r               refresh from page 1 with the current filters
  t               show quota and token totals
  e [FILE]        export matching logs as CSV
  h               help
  q               quit
`

// errorReporter prints table notifications and command errors without
// reporting a backend failure twice.
type errorReporter struct {
	out      io.Writer
	notified bool
}

// notify is installed as the table's Notify hook.
func (r *errorReporter) notify(msg string) {
	fmt.Fprintln(r.out, "error:", msg)
	r.notified = true
}

// report prints err unless the table already notified about it.
func (r *errorReporter) report(err error) {
	if err != nil && !r.notified {
		fmt.Fprintln(r.out, "error:", err)
	}
	r.notified = false
}

// browse runs the line-oriented console over t. Prompts are only printed
// when interactive is set.
func browse(ctx context.Context, t *console.Table, rep *errorReporter, in io.Reader, out io.Writer, interactive bool) error {
	rep.report(t.Activate(ctx))
	if err := renderPage(out, t); err != nil {
		return err
	}

	sc := bufio.NewScanner(in)
	for {
		if interactive {
			fmt.Fprint(out, "> ")
		}
		if !sc.Scan() {
			return sc.Err()
		}

		cmd, arg, _ := strings.Cut(strings.TrimSpace(sc.Text()), " ")
		arg = strings.TrimSpace(arg)

		var err error
		show := true
		switch cmd {
		case "":
			show = false
		case "q", "quit", "exit":
			return nil
		case "h", "help", "?":
			fmt.Fprint(out, browseHelp)
			show = false
		case "n":
			err = t.ChangePage(ctx, t.ActivePage()+1)
		case "p":
			err = t.ChangePage(ctx, t.ActivePage()-1)
		case "g":
			var page int
			page, err = strconv.Atoi(arg)
			if err == nil {
				err = t.ChangePage(ctx, page)
			}
		case "s":
			t.SortBy(arg)
		case "f":
			name, value, ok := strings.Cut(arg, "=")
			if !ok {
				err = fmt.Errorf("want FIELD=VALUE, got %q", arg)
				break
			}
			err = t.SetField(strings.TrimSpace(name), strings.TrimSpace(value))
			show = false
		case "filters":
			printFilters(out, t)
			show = false
		case "r":
			err = t.Refresh(ctx)
		case "t":
			st, statErr := t.RefreshStat(ctx)
			err = statErr
			if err == nil {
				renderStat(out, st.Quota, st.Token)
			}
			show = false
		case "e":
			path := arg
			if path == "" {
				path = console.ExportFileName
			}
			var n int
			n, err = exportToFile(ctx, t, path)
			if err == nil {
				fmt.Fprintf(out, "exported %d records to %s\n", n, path)
			}
			show = false
		default:
			err = fmt.Errorf("unknown command %q, h for help", cmd)
			show = false
		}

		rep.report(err)
		if show {
			if err := renderPage(out, t); err != nil {
				return err
			}
		}
	}
}

func printFilters(out io.Writer, t *console.Table) {
	fields := t.Fields()
	names := console.EnabledFields(t.Role())
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "  %s = %q\n", name, fields[name])
	}
}
