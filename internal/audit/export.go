package audit

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"time"
)

var csvHeader = []string{"id", "at", "actor_id", "action", "outcome", "target_type", "target_id", "reason", "old_values", "new_values"}

// WriteCSV streams rows as CSV.
func WriteCSV(w io.Writer, rows []TimelineRow) error {
	buf := bufio.NewWriter(w)
	writer := csv.NewWriter(buf)
	if err := writer.Write(csvHeader); err != nil {
		return err
	}
	for _, row := range rows {
		record := []string{
			strconv.FormatInt(row.ID, 10),
			row.At.UTC().Format(time.RFC3339),
			strconv.FormatInt(row.ActorID, 10),
			row.Action,
			row.Outcome,
			row.TargetType,
			row.TargetID,
			row.Reason,
			valuesCell(row.OldValues),
			valuesCell(row.NewValues),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return buf.Flush()
}

func valuesCell(values map[string]any) string {
	if len(values) == 0 {
		return ""
	}
	data, err := json.Marshal(values)
	if err != nil {
		return ""
	}
	return string(data)
}
