// Command corestat is a read-only operator view of a core instance's
// live accounts and sessions, refreshed on a timer in the style of the
// teacher's migrate GUI job list.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/jessevdk/go-flags"
	"github.com/rivo/tview"
)

type options struct {
	RAMLimit uint64 `long:"ram-limit" description:"total bytes of RAM the simulated core may hand out" default:"268435456"`
	CapLimit uint64 `long:"cap-limit" description:"total capability slots the simulated core may hand out" default:"65536"`
	Refresh  string `long:"refresh" description:"table refresh interval" default:"1s"`
}

func run() error {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		return err
	}
	refresh, err := time.ParseDuration(opts.Refresh)
	if err != nil {
		return fmt.Errorf("corestat: parsing --refresh: %w", err)
	}

	m, err := newModel(opts.RAMLimit, opts.CapLimit)
	if err != nil {
		return fmt.Errorf("corestat: %w", err)
	}

	app := tview.NewApplication()

	accounts := tview.NewTable().SetBorders(false).SetFixed(1, 0)
	accounts.SetBorder(true).SetTitle("Accounts")

	sessions := tview.NewTable().SetBorders(false).SetFixed(1, 0)
	sessions.SetBorder(true).SetTitle("Sessions")

	help := tview.NewTextView()
	help.SetText("Ctrl-C: Exit").SetBorder(true)

	grid := tview.NewGrid().
		SetRows(0, 3).
		SetColumns(0, 0).
		AddItem(accounts, 0, 0, 1, 1, 0, 0, false).
		AddItem(sessions, 0, 1, 1, 1, 0, 0, false).
		AddItem(help, 1, 0, 1, 2, 0, 0, false)

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyCtrlC {
			app.Stop()
			return nil
		}
		return event
	})

	redraw(app, accounts, sessions, m)
	go func() {
		ticker := time.NewTicker(refresh)
		defer ticker.Stop()
		for range ticker.C {
			app.QueueUpdateDraw(func() {
				redraw(app, accounts, sessions, m)
			})
		}
	}()

	if err := app.SetRoot(grid, true).Run(); err != nil {
		return fmt.Errorf("corestat: %w", err)
	}
	return nil
}

func redraw(app *tview.Application, accounts, sessionTable *tview.Table, m *model) {
	accounts.Clear()
	header := []string{"PD", "RAM used", "RAM limit", "Caps used", "Caps limit"}
	for col, h := range header {
		accounts.SetCell(0, col, tview.NewTableCell(h).SetSelectable(false).SetAttributes(tcell.AttrBold))
	}
	for row, r := range m.pdRows() {
		accounts.SetCell(row+1, 0, tview.NewTableCell(r.Name))
		accounts.SetCell(row+1, 1, tview.NewTableCell(fmt.Sprintf("%d", r.RAMUsed)))
		accounts.SetCell(row+1, 2, tview.NewTableCell(fmt.Sprintf("%d", r.RAMLimit)))
		accounts.SetCell(row+1, 3, tview.NewTableCell(fmt.Sprintf("%d", r.CapUsed)))
		accounts.SetCell(row+1, 4, tview.NewTableCell(fmt.Sprintf("%d", r.CapLimit)))
	}

	sessionTable.Clear()
	sheader := []string{"Session", "Service", "Label", "State"}
	for col, h := range sheader {
		sessionTable.SetCell(0, col, tview.NewTableCell(h).SetSelectable(false).SetAttributes(tcell.AttrBold))
	}
	for row, r := range m.sessionRows() {
		sessionTable.SetCell(row+1, 0, tview.NewTableCell(r.ID))
		sessionTable.SetCell(row+1, 1, tview.NewTableCell(r.Service))
		sessionTable.SetCell(row+1, 2, tview.NewTableCell(r.Label))
		sessionTable.SetCell(row+1, 3, tview.NewTableCell(r.State))
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "corestat:", err)
		os.Exit(1)
	}
}
