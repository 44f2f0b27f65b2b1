// Package export joins base rows, per-model ledgers and human labels into one
// comparison table.
package export

import (
	"encoding/csv"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"sentiment-labeler/internal/ledger"
	"sentiment-labeler/internal/models"
	"sentiment-labeler/internal/signature"
)

// Well-known tags, merged first and in this order.
var preferredTags = []string{"Qwen", "Llama", "Hermes"}

// BaseColumns lead every wide table.
var BaseColumns = []string{"id", "text", "platform", "likes", "vader_label", "vader_score"}

var (
	tagSplit   = regexp.MustCompile(`[-_:./]`)
	tagInvalid = regexp.MustCompile(`[^0-9a-zA-Z]+`)
)

// Tag shortens a model id to the column prefix used in wide tables.
func Tag(model string) string {
	s := strings.ToLower(model)
	switch {
	case strings.Contains(s, "hermes") || strings.Contains(s, "nousresearch"):
		return "Hermes"
	case strings.Contains(s, "meta-llama"):
		return "Llama"
	case strings.Contains(s, "qwen"):
		return "Qwen"
	}
	if _, rest, ok := strings.Cut(s, "/"); ok {
		s = rest
	}
	s = tagSplit.Split(s, 2)[0]
	s = tagInvalid.ReplaceAllString(s, "")
	if s == "" {
		return "model"
	}
	return s
}

// Verdict is one model's label for a row.
type Verdict struct {
	Label   models.Label `json:"label"`
	Score   float64      `json:"score"`
	Sarcasm bool         `json:"sarcasm"`
	Ethics  string       `json:"ethics"`
}

// Row is one line of the wide table.
type Row struct {
	ID           int64               `json:"id"`
	Text         string              `json:"text"`
	Platform     string              `json:"platform"`
	Likes        int                 `json:"likes"`
	LexiconLabel models.Label        `json:"vader_label,omitempty"`
	LexiconScore *float64            `json:"vader_score,omitempty"`
	Models       map[string]*Verdict `json:"models"`
	Human        *models.GroundTruth `json:"human,omitempty"`
}

// Table is the joined view, sorted by id.
type Table struct {
	Tags     []string `json:"tags"`
	HasHuman bool     `json:"has_human"`
	Rows     []Row    `json:"rows"`
}

// Build joins base rows with the ledgers in byModel (model id to ledger) and
// the ground truth. A ledger record is used only when its signature matches
// the row's current text. When two models share a tag, the one covering more
// rows wins.
func Build(base []models.InputRow, byModel map[string]*ledger.Ledger, truth []models.GroundTruth) *Table {
	seen := make(map[int64]bool, len(base))
	rows := make([]Row, 0, len(base))
	sigs := make(map[int64]string, len(base))
	for _, in := range base {
		if seen[in.ID] {
			continue
		}
		seen[in.ID] = true
		sigs[in.ID] = signature.Of(in.Text)

		platform := string(in.Platform)
		if platform == "" {
			platform = "unknown"
		}
		rows = append(rows, Row{
			ID:           in.ID,
			Text:         in.Text,
			Platform:     platform,
			Likes:        in.Likes,
			LexiconLabel: lexiconLabel(in.LexiconLabel),
			LexiconScore: in.LexiconScore,
			Models:       make(map[string]*Verdict),
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })

	// Resolve tag collisions before filling cells.
	modelIDs := make([]string, 0, len(byModel))
	for model := range byModel {
		modelIDs = append(modelIDs, model)
	}
	sort.Strings(modelIDs)

	chosen := make(map[string]map[int64]*Verdict)
	for _, model := range modelIDs {
		led := byModel[model]
		if led == nil {
			continue
		}
		verdicts := make(map[int64]*Verdict)
		for id, sig := range sigs {
			rec, ok := led.Get(ledger.Key{ID: id, Signature: sig})
			if !ok {
				continue
			}
			verdicts[id] = &Verdict{
				Label:   rec.Label,
				Score:   rec.Score,
				Sarcasm: rec.Sarcasm,
				Ethics:  rec.Ethics.String(),
			}
		}
		tag := Tag(model)
		if prev, ok := chosen[tag]; !ok || len(verdicts) > len(prev) {
			chosen[tag] = verdicts
		}
	}

	t := &Table{Tags: orderTags(chosen)}
	for i := range rows {
		for tag, verdicts := range chosen {
			if v, ok := verdicts[rows[i].ID]; ok {
				rows[i].Models[tag] = v
			}
		}
	}

	byID := make(map[int64]int, len(rows))
	for i, r := range rows {
		byID[r.ID] = i
	}
	for _, gt := range truth {
		i, ok := byID[gt.ID]
		if !ok {
			continue
		}
		rows[i].Human = &gt
		t.HasHuman = true
	}

	t.Rows = rows
	return t
}

func orderTags(chosen map[string]map[int64]*Verdict) []string {
	var tags []string
	for _, tag := range preferredTags {
		if _, ok := chosen[tag]; ok {
			tags = append(tags, tag)
		}
	}
	var rest []string
	for tag := range chosen {
		if !isPreferred(tag) {
			rest = append(rest, tag)
		}
	}
	sort.Strings(rest)
	return append(tags, rest...)
}

func isPreferred(tag string) bool {
	for _, p := range preferredTags {
		if p == tag {
			return true
		}
	}
	return false
}

func lexiconLabel(raw string) models.Label {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return ""
	case "neg", "negative":
		return models.Negative
	case "pos", "positive":
		return models.Positive
	}
	return models.Neutral
}

// Header returns the CSV header for t.
func (t *Table) Header() []string {
	header := append([]string{}, BaseColumns...)
	for _, tag := range t.Tags {
		header = append(header, tag+"_label", tag+"_score", tag+"_sarcasm", tag+"_ethics")
	}
	if t.HasHuman {
		header = append(header, "Human_label", "Human_sarcasm", "Human_ethics")
	}
	return header
}

// WriteCSV renders t. Missing verdicts are empty cells.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header()); err != nil {
		return err
	}

	for _, r := range t.Rows {
		lexScore := ""
		if r.LexiconScore != nil {
			lexScore = strconv.FormatFloat(*r.LexiconScore, 'f', -1, 64)
		}
		rec := []string{
			strconv.FormatInt(r.ID, 10),
			r.Text,
			r.Platform,
			strconv.Itoa(r.Likes),
			string(r.LexiconLabel),
			lexScore,
		}
		for _, tag := range t.Tags {
			v, ok := r.Models[tag]
			if !ok {
				rec = append(rec, "", "", "", "")
				continue
			}
			rec = append(rec,
				string(v.Label),
				strconv.FormatFloat(v.Score, 'f', -1, 64),
				ledger.FormatBool(v.Sarcasm),
				v.Ethics,
			)
		}
		if t.HasHuman {
			if r.Human == nil {
				rec = append(rec, "", "", "")
			} else {
				rec = append(rec, string(r.Human.Label), ledger.FormatBool(r.Human.Sarcasm), r.Human.Ethics)
			}
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}
