package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"sentiment-labeler/internal/models"
)

// GroundTruthColumns is the column order used when writing annotations.
var GroundTruthColumns = []string{"id", "text", "human_label", "human_sarcasm", "human_ethics"}

// Accepted aliases per field, in priority order.
var (
	humanLabelColumns   = []string{"human_label", "label", "sentiment", "gold"}
	humanSarcasmColumns = []string{"human_sarcasm", "sarcasm"}
	humanEthicsColumns  = []string{"human_ethics", "ethics"}
)

// ReadGroundTruth parses human annotations. Rows with an empty label are
// skipped so partially annotated sheets can be imported.
func ReadGroundTruth(r io.Reader) ([]models.GroundTruth, error) {
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
	if _, ok := col["id"]; !ok {
		return nil, fmt.Errorf("ground truth has no id column")
	}
	labelCol, ok := firstColumn(col, humanLabelColumns)
	if !ok {
		return nil, fmt.Errorf("ground truth has no label column")
	}
	sarcasmCol, hasSarcasm := firstColumn(col, humanSarcasmColumns)
	ethicsCol, hasEthics := firstColumn(col, humanEthicsColumns)
	textCol, hasText := col["text"]

	field := func(rec []string, i int, ok bool) string {
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var out []models.GroundTruth
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

		rawLabel := field(rec, labelCol, true)
		if rawLabel == "" {
			continue
		}

		id, ok, err := parseRowID(field(rec, col["id"], true))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if !ok {
			return nil, fmt.Errorf("line %d: annotation without id", line)
		}

		ethics := ""
		if v := field(rec, ethicsCol, hasEthics); v != "" {
			ethics = models.ParseEthics(v).String()
		}

		out = append(out, models.GroundTruth{
			ID:      id,
			Text:    field(rec, textCol, hasText),
			Label:   models.ParseLabel(rawLabel),
			Sarcasm: models.ParseSarcasm(field(rec, sarcasmCol, hasSarcasm)),
			Ethics:  ethics,
		})
	}
	return out, nil
}

// WriteGroundTruth writes annotations with GroundTruthColumns.
func WriteGroundTruth(w io.Writer, truth []models.GroundTruth) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(GroundTruthColumns); err != nil {
		return err
	}
	for _, gt := range truth {
		if err := cw.Write([]string{
			strconv.FormatInt(gt.ID, 10),
			gt.Text,
			string(gt.Label),
			strconv.FormatBool(gt.Sarcasm),
			gt.Ethics,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func firstColumn(col map[string]int, names []string) (int, bool) {
	for _, name := range names {
		if i, ok := col[name]; ok {
			return i, true
		}
	}
	return 0, false
}
