package report

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"strings"

	"demandline/internal/aggregate"
)

// utf8BOM lets spreadsheet tools expecting a Windows locale detect UTF-8.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

const notCompleted = "Not completed"

func renderCSV(v view, detail Detail) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(utf8BOM)
	w := csv.NewWriter(&buf)
	var rows [][]string
	if detail == DetailComplete {
		rows = append(rows, []string{"Created At", "Title", "Type", "Description", "Status", "Priority", "Assignee", "Due Date", "Completed At"})
		for _, l := range v.Lines {
			completed := notCompleted
			if l.CompletedAt != nil {
				completed = l.CompletedAt.Format(dateTimeLayout)
			}
			rows = append(rows, []string{
				l.CreatedAt.Format(dateTimeLayout),
				l.Title,
				l.Type.Label(),
				l.Description,
				strings.ToUpper(l.Status.Label()),
				l.Priority.Label(),
				l.Assignee,
				l.DueDate.Format(dateLayout),
				completed,
			})
		}
	} else {
		rows = append(rows,
			[]string{"Metric", "Value"},
			[]string{"Total Demands", strconv.Itoa(v.Overall.Total)},
			[]string{"Completed Demands", strconv.Itoa(v.Overall.Completed)},
			[]string{"Completion Rate", aggregate.FormatRate(v.Overall.CompletionRate)},
		)
		for _, r := range v.ByType {
			rows = append(rows, []string{"Total " + r.Label, strconv.Itoa(r.Total)})
		}
	}
	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
