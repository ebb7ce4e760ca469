package dispatch

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
)

// WriteSummary renders one row per target in dispatch order.
func WriteSummary(w io.Writer, r Report) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Target", "Label", "Commands", "Non-zero", "Status", "Duration", "Error"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)

	for _, res := range r.Ordered() {
		errText := ""
		if res.Err != nil {
			errText = firstLine(res.Err.Error())
		}
		table.Append([]string{
			res.Target.Address,
			res.Target.Label,
			fmt.Sprintf("%d/%d", len(res.Executions), res.Planned),
			fmt.Sprintf("%d", res.NonZero()),
			res.Status(),
			res.Duration().Round(time.Millisecond).String(),
			errText,
		})
	}
	table.SetFooter([]string{
		"",
		"",
		fmt.Sprintf("%d", r.Records()),
		"",
		fmt.Sprintf("%d ok", r.Count(StatusOK)),
		r.Finished.Sub(r.Started).Round(time.Millisecond).String(),
		fmt.Sprintf("%d failed, %d skipped", r.Count(StatusFailed), r.Count(StatusSkipped)),
	})
	table.Render()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
