// Package ingest reads and collects the row tables handed to the labeler.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"sentiment-labeler/internal/models"
)

// RowColumns is the column order used when writing row tables.
var RowColumns = []string{"id", "text", "likes", "is_reply", "posted", "platform", "vader_label", "vader"}

// sourceIDColumns are native ids used to derive anonymized ids, in priority order.
var sourceIDColumns = []string{"comment_id", "tweet_id", "source_id"}

// ReadRows parses a CSV row table. Only text is required. Rows without an id
// get one derived from their native id (or text) with ShortID.
func ReadRows(r io.Reader) ([]models.InputRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	col := indexColumns(header)
	if _, ok := col["text"]; !ok {
		return nil, fmt.Errorf("row table has no text column")
	}

	get := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var rows []models.InputRow
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		text := ""
		if i := col["text"]; i < len(rec) {
			text = rec[i]
		}

		row := models.InputRow{
			Text:         text,
			Posted:       get(rec, "posted"),
			Platform:     models.Platform(strings.ToLower(get(rec, "platform"))),
			IsReply:      parseFlag(get(rec, "is_reply")),
			LexiconLabel: get(rec, "vader_label"),
		}

		if v := get(rec, "likes"); v != "" {
			likes, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid likes %q", line, v)
			}
			row.Likes = int(likes)
		}

		if v := get(rec, "vader"); v != "" {
			if score, err := strconv.ParseFloat(v, 64); err == nil {
				row.LexiconScore = &score
			}
		}

		id, ok, err := parseRowID(get(rec, "id"))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if !ok {
			source := ""
			for _, name := range sourceIDColumns {
				if v := get(rec, name); v != "" {
					source = v
					break
				}
			}
			id = ShortID(source, text)
		}
		row.ID = id

		rows = append(rows, row)
	}
	return rows, nil
}

// parseRowID returns ok=false for an empty or zero id, which means "derive one".
func parseRowID(v string) (int64, bool, error) {
	if v == "" {
		return 0, false, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f != float64(int64(f)) {
		return 0, false, fmt.Errorf("id %q is not an integer", v)
	}
	if f < 0 {
		return 0, false, fmt.Errorf("id %q is negative", v)
	}
	if f == 0 {
		return 0, false, nil
	}
	return int64(f), true, nil
}

// WriteRows writes rows with RowColumns.
func WriteRows(w io.Writer, rows []models.InputRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(RowColumns); err != nil {
		return err
	}
	for _, row := range rows {
		lexicon := ""
		if row.LexiconScore != nil {
			lexicon = strconv.FormatFloat(*row.LexiconScore, 'f', -1, 64)
		}
		if err := cw.Write([]string{
			strconv.FormatInt(row.ID, 10),
			row.Text,
			strconv.Itoa(row.Likes),
			strconv.FormatBool(row.IsReply),
			row.Posted,
			string(row.Platform),
			row.LexiconLabel,
			lexicon,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func parseFlag(v string) bool {
	switch strings.ToLower(v) {
	case "1", "1.0", "true", "yes", "y":
		return true
	}
	return false
}

func indexColumns(header []string) map[string]int {
	col := make(map[string]int, len(header))
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if _, dup := col[key]; !dup {
			col[key] = i
		}
	}
	return col
}
