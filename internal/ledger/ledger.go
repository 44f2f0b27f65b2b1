// Package ledger persists labels per model as CSV and serves them as a cache
// keyed by (id, content signature).
package ledger

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"sentiment-labeler/internal/models"

	"go.uber.org/zap"
)

// Columns is the ledger header, in file order.
var Columns = []string{"id", "llm_label", "llm_score", "llm_sarcasm", "llm_ethics", "cache_sig"}

// Key identifies one cached verdict.
type Key struct {
	ID        int64
	Signature string
}

// KeyOf returns the cache key of a record.
func KeyOf(rec models.LabelRecord) Key {
	return Key{ID: rec.ID, Signature: rec.Signature}
}

// Ledger is the in-memory view of one model's label file.
type Ledger struct {
	records []models.LabelRecord
	index   map[Key]int
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{index: make(map[Key]int)}
}

var unsafeModelChars = strings.NewReplacer("/", "_", ":", "_")

// FileName returns the ledger file name for model.
func FileName(model string) string {
	return "labels_" + unsafeModelChars.Replace(model) + ".csv"
}

// PathFor returns the ledger path for model inside dir.
func PathFor(dir, model string) string {
	return filepath.Join(dir, FileName(model))
}

// Load reads the ledger at path. A missing or unreadable file yields an empty
// ledger; corruption is logged and otherwise ignored.
func Load(path string, logger *zap.Logger) *Ledger {
	f, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn("Ledger unreadable, starting empty", zap.String("path", path), zap.Error(err))
		}
		return New()
	}
	defer f.Close()

	l, err := Read(f)
	if err != nil {
		logger.Warn("Ledger corrupt, starting empty", zap.String("path", path), zap.Error(err))
		return New()
	}

	logger.Debug("Ledger loaded", zap.String("path", path), zap.Int("records", l.Len()))
	return l
}

// Read parses ledger CSV. Columns are located by header name; rows with an
// unparseable id are skipped.
func Read(r io.Reader) (*Ledger, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger header: %w", err)
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	if _, ok := col["id"]; !ok {
		return nil, fmt.Errorf("ledger header has no id column")
	}
	if _, ok := col["cache_sig"]; !ok {
		return nil, fmt.Errorf("ledger header has no cache_sig column")
	}

	get := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	l := New()
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read ledger row: %w", err)
		}

		id, err := parseID(get(row, "id"))
		if err != nil {
			continue
		}
		label := models.ParseLabel(get(row, "llm_label"))
		l.add(models.LabelRecord{
			ID:        id,
			Label:     label,
			Score:     models.ParseScore(get(row, "llm_score"), label),
			Sarcasm:   models.ParseSarcasm(get(row, "llm_sarcasm")),
			Ethics:    models.ParseEthics(get(row, "llm_ethics")),
			Signature: get(row, "cache_sig"),
		})
	}
	l.sort()
	return l, nil
}

// parseID accepts plain integers and float renderings such as "12.0".
func parseID(s string) (int64, error) {
	if id, err := strconv.ParseInt(s, 10, 64); err == nil {
		return id, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 || f != float64(int64(f)) {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return int64(f), nil
}

// Len returns the number of records.
func (l *Ledger) Len() int {
	return len(l.records)
}

// Has reports whether key is cached.
func (l *Ledger) Has(key Key) bool {
	_, ok := l.index[key]
	return ok
}

// Get returns the cached record for key.
func (l *Ledger) Get(key Key) (models.LabelRecord, bool) {
	i, ok := l.index[key]
	if !ok {
		return models.LabelRecord{}, false
	}
	return l.records[i], true
}

// Records returns a copy of all records ordered by id.
func (l *Ledger) Records() []models.LabelRecord {
	out := make([]models.LabelRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Merge appends records whose key is not present yet and returns how many
// were added. Existing entries are never overwritten and unresolved records
// are skipped.
func (l *Ledger) Merge(records ...models.LabelRecord) int {
	added := 0
	for _, rec := range records {
		if rec.Unresolved || l.Has(KeyOf(rec)) {
			continue
		}
		rec.Model = ""
		l.add(rec)
		added++
	}
	if added > 0 {
		l.sort()
	}
	return added
}

func (l *Ledger) add(rec models.LabelRecord) {
	key := KeyOf(rec)
	if _, dup := l.index[key]; dup {
		return
	}
	l.index[key] = len(l.records)
	l.records = append(l.records, rec)
}

func (l *Ledger) sort() {
	sort.SliceStable(l.records, func(i, j int) bool { return l.records[i].ID < l.records[j].ID })
	for i, rec := range l.records {
		l.index[KeyOf(rec)] = i
	}
}

// Write renders the ledger as CSV.
func (l *Ledger) Write(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	for _, rec := range l.records {
		if err := cw.Write(row(rec)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func row(rec models.LabelRecord) []string {
	return []string{
		strconv.FormatInt(rec.ID, 10),
		string(rec.Label),
		strconv.FormatFloat(rec.Score, 'f', -1, 64),
		FormatBool(rec.Sarcasm),
		rec.Ethics.String(),
		rec.Signature,
	}
}

// FormatBool renders booleans the way existing ledgers store them.
func FormatBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

// WriteFile atomically replaces the ledger file at path.
func (l *Ledger) WriteFile(path string) error {
	return writeAtomic(path, l.Write)
}
