package evaluate

import (
	"archive/zip"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"

	"sentiment-labeler/internal/export"
	"sentiment-labeler/internal/models"
)

// LexiconTag names the lexicon scorer's column in reports.
const LexiconTag = "VADER"

// ModelScores is one predictor's scores, optionally restricted to a platform.
type ModelScores struct {
	Model    string `json:"model"`
	Platform string `json:"platform,omitempty"`
	Scores
}

// Report is the evaluation of every tag in a wide table.
type Report struct {
	Overall     []ModelScores        `json:"overall"`
	PerPlatform []ModelScores        `json:"per_platform"`
	Confusions  map[string]Confusion `json:"confusions"`
}

// predictors lists tags in table order plus the lexicon when any row has one.
func predictors(t *export.Table) []string {
	tags := append([]string{}, t.Tags...)
	for _, r := range t.Rows {
		if r.LexiconLabel != "" {
			return append(tags, LexiconTag)
		}
	}
	return tags
}

func prediction(r export.Row, tag string) (models.Label, bool) {
	if tag == LexiconTag {
		return r.LexiconLabel, r.LexiconLabel != ""
	}
	v, ok := r.Models[tag]
	if !ok {
		return "", false
	}
	return v.Label, true
}

// Evaluate scores each predictor against the human labels in t. Only rows
// that carry both a human label and a prediction count.
func Evaluate(t *export.Table) *Report {
	report := &Report{Confusions: make(map[string]Confusion)}
	if !t.HasHuman {
		return report
	}

	platforms := make(map[string]bool)
	for _, r := range t.Rows {
		if r.Human != nil {
			platforms[r.Platform] = true
		}
	}
	platformList := make([]string, 0, len(platforms))
	for p := range platforms {
		platformList = append(platformList, p)
	}
	sort.Strings(platformList)

	for _, tag := range predictors(t) {
		overall := confusion(t.Rows, tag, "")
		report.Confusions[tag] = overall
		report.Overall = append(report.Overall, ModelScores{Model: tag, Scores: Score(overall)})

		for _, platform := range platformList {
			c := confusion(t.Rows, tag, platform)
			if c.Total() == 0 {
				continue
			}
			report.PerPlatform = append(report.PerPlatform, ModelScores{Model: tag, Platform: platform, Scores: Score(c)})
		}
	}
	return report
}

func confusion(rows []export.Row, tag, platform string) Confusion {
	var c Confusion
	for _, r := range rows {
		if r.Human == nil || (platform != "" && r.Platform != platform) {
			continue
		}
		if pred, ok := prediction(r, tag); ok {
			c.Add(r.Human.Label, pred)
		}
	}
	return c
}

var scoreColumns = []string{"n", "accuracy", "macro_f1", "weighted_f1", "kappa", "mcc"}

func scoreRecord(s Scores) []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 4, 64) }
	return []string{strconv.Itoa(s.N), f(s.Accuracy), f(s.MacroF1), f(s.WeightedF1), f(s.Kappa), f(s.MCC)}
}

// WriteOverallCSV writes one line per predictor.
func (r *Report) WriteOverallCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{"model"}, scoreColumns...)); err != nil {
		return err
	}
	for _, m := range r.Overall {
		if err := cw.Write(append([]string{m.Model}, scoreRecord(m.Scores)...)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WritePlatformCSV writes one line per platform and predictor.
func (r *Report) WritePlatformCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{"platform", "model"}, scoreColumns...)); err != nil {
		return err
	}
	for _, m := range r.PerPlatform {
		if err := cw.Write(append([]string{m.Platform, m.Model}, scoreRecord(m.Scores)...)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteConfusionCSV writes the long form T,P,count for tag.
func (r *Report) WriteConfusionCSV(w io.Writer, tag string) error {
	c, ok := r.Confusions[tag]
	if !ok {
		return fmt.Errorf("no confusion matrix for %s", tag)
	}
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"T", "P", "count"}); err != nil {
		return err
	}
	for t, truth := range Classes {
		for p, pred := range Classes {
			if err := cw.Write([]string{string(truth), string(pred), strconv.Itoa(c[t][p])}); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteBundle writes a zip archive with the wide table, the metric tables and
// one confusion table per predictor.
func WriteBundle(w io.Writer, t *export.Table, r *Report) error {
	z := zip.NewWriter(w)

	add := func(name string, render func(io.Writer) error) error {
		f, err := z.Create(name)
		if err != nil {
			return fmt.Errorf("failed to add %s: %w", name, err)
		}
		if err := render(f); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
		return nil
	}

	if err := add("final_table.csv", t.WriteCSV); err != nil {
		return err
	}
	if err := add("overall_metrics.csv", r.WriteOverallCSV); err != nil {
		return err
	}
	if err := add("per_platform_metrics.csv", r.WritePlatformCSV); err != nil {
		return err
	}

	tags := make([]string, 0, len(r.Confusions))
	for tag := range r.Confusions {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	for _, tag := range tags {
		if err := add("confusion_"+tag+".csv", func(w io.Writer) error {
			return r.WriteConfusionCSV(w, tag)
		}); err != nil {
			return err
		}
	}

	return z.Close()
}
