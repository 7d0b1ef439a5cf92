package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/ifuryst/cadence/internal/calendar"
	"github.com/ifuryst/cadence/internal/models"
)

// renderCalendar writes one table per week followed by the unscheduled
// drafts.
func renderCalendar(w io.Writer, view calendar.View, loc *time.Location) {
	for _, week := range view.Weeks {
		// Headings go on their own line; a table title wraps at the table width.
		fmt.Fprintf(w, "Week %d: %s (%s - %s, %d posts)\n",
			week.Index+1, week.Theme,
			week.Start.Format(calendar.DateLayout), week.End.Format(calendar.DateLayout),
			week.PostCount)
		tw := table.NewWriter()
		tw.SetOutputMirror(w)
		tw.AppendHeader(table.Row{"Day", "Time", "ID", "Title", "Status"})
		for _, day := range week.Days {
			label := day.Date.Format("Mon 01-02")
			if len(day.Items) == 0 {
				tw.AppendRow(table.Row{label, "", "", "", ""})
				continue
			}
			for i, item := range day.Items {
				if i > 0 {
					label = ""
				}
				tw.AppendRow(table.Row{label, item.RelevantDate().In(loc).Format("15:04"), item.ID, item.Title, statusLabel(item)})
			}
		}
		tw.Render()
	}

	if len(view.Unscheduled) == 0 {
		return
	}
	fmt.Fprintln(w, "Unscheduled")
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"ID", "Title", "Category"})
	for _, item := range view.Unscheduled {
		tw.AppendRow(table.Row{item.ID, item.Title, item.Category})
	}
	tw.Render()
}

func statusLabel(item models.ContentItem) string {
	return strings.ToUpper(string(item.Status[:1])) + string(item.Status[1:])
}
