// Package output renders admin command results as aligned terminal
// tables, used by `brokerd session list` and `brokerd transfer list`.
package output

import (
	"io"

	"github.com/olekukonko/tablewriter"
)

// Table is implemented by any result set that knows its own columns.
type Table interface {
	Headers() []string
	Rows() [][]string
}

// Print writes t as a borderless, left-aligned table.
func Print(w io.Writer, t Table) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(t.Headers())
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)

	for _, row := range t.Rows() {
		table.Append(row)
	}
	table.Render()
}
