// Package labeler runs a labeling pass for one model: diff against the
// ledger, chunk what is new, call the model, repair gaps and persist.
package labeler

import (
	"context"
	"fmt"

	"sentiment-labeler/internal/chunker"
	"sentiment-labeler/internal/ledger"
	"sentiment-labeler/internal/llm"
	"sentiment-labeler/internal/models"
	"sentiment-labeler/internal/ratelimit"
	"sentiment-labeler/internal/reply"
	"sentiment-labeler/internal/signature"

	"go.uber.org/zap"
)

const (
	DefaultMaxPromptChars = 120000
	DefaultTokensPerRow   = 8
	DefaultRepairPasses   = 2
)

// State is a step of a labeling run.
type State int

const (
	StateInit State = iota
	StateDiffed
	StateChunked
	StateCalling
	StateParsing
	StateRepairing
	StateMerged
	StateDone
)

var stateNames = map[State]string{
	StateInit:      "INIT",
	StateDiffed:    "DIFFED",
	StateChunked:   "CHUNKED",
	StateCalling:   "CALLING",
	StateParsing:   "PARSING",
	StateRepairing: "REPAIRING",
	StateMerged:    "MERGED",
	StateDone:      "DONE",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Progress is reported to Options.Progress as a run advances.
type Progress struct {
	Model     string `json:"model"`
	State     State  `json:"-"`
	Step      string `json:"state"`
	Planned   int    `json:"planned"`
	Made      int    `json:"made"`
	CacheHits int    `json:"cache_hits"`
	Chunk     int    `json:"chunk"`
	Chunks    int    `json:"chunks"`
}

// Limiter paces requests. *ratelimit.Window satisfies it.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Options configures one run.
type Options struct {
	Model             string
	LedgerDir         string
	RequestsPerMinute int
	MaxPromptChars    int
	TokensPerRow      int
	// Repair passes for ids missing from a reply. Negative disables repairs.
	RepairPasses   int
	IncludeContext bool

	Limiter  Limiter // defaults to a fresh sliding window per run
	Progress func(Progress)
}

func (o *Options) setDefaults() {
	if o.MaxPromptChars <= 0 {
		o.MaxPromptChars = DefaultMaxPromptChars
	}
	if o.TokensPerRow <= 0 {
		o.TokensPerRow = DefaultTokensPerRow
	}
	if o.RepairPasses == 0 {
		o.RepairPasses = DefaultRepairPasses
	}
	if o.RepairPasses < 0 {
		o.RepairPasses = 0
	}
	if o.RequestsPerMinute <= 0 {
		o.RequestsPerMinute = llm.DefaultRequestsPerMinute
	}
	if o.Limiter == nil {
		o.Limiter = ratelimit.NewWindow(o.RequestsPerMinute)
	}
}

// Result summarizes a finished run.
type Result struct {
	Model      string               `json:"model"`
	LedgerPath string               `json:"ledger_path"`
	Records    []models.LabelRecord `json:"records"`
	Planned    int                  `json:"planned"`
	Made       int                  `json:"made"`
	CacheHits  int                  `json:"cache_hits"`
	Added      int                  `json:"added"`
	Unresolved []int64              `json:"unresolved,omitempty"`
}

// Labeler labels rows with a single backend.
type Labeler struct {
	completer llm.Completer
	logger    *zap.Logger
}

// New creates a labeler on top of completer.
func New(completer llm.Completer, logger *zap.Logger) *Labeler {
	return &Labeler{
		completer: completer,
		logger:    logger,
	}
}

// run carries the mutable state of one Run call.
type run struct {
	*Labeler
	opts   Options
	system string
	result *Result
	chunks int
}

// Run labels rows with opts.Model. Rows already in the model's ledger under
// the same (id, signature) are served from it without remote calls. The
// ledger is rewritten after every chunk, so an aborted run keeps its progress.
func (l *Labeler) Run(ctx context.Context, rows []models.InputRow, opts Options) (*Result, error) {
	if opts.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	opts.setDefaults()

	r := &run{
		Labeler: l,
		opts:    opts,
		system:  SystemMessage(opts.Model),
		result: &Result{
			Model:      opts.Model,
			LedgerPath: ledger.PathFor(opts.LedgerDir, opts.Model),
		},
	}
	r.emit(StateInit, 0)

	unique, sigs, err := distinct(rows)
	if err != nil {
		return nil, err
	}

	led := ledger.Load(r.result.LedgerPath, l.logger)

	var todo []models.InputRow
	for _, row := range unique {
		if !led.Has(ledger.Key{ID: row.ID, Signature: sigs[row.ID]}) {
			todo = append(todo, row)
		}
	}
	r.result.CacheHits = len(unique) - len(todo)
	r.emit(StateDiffed, 0)

	l.logger.Info("Labeling run diffed",
		zap.String("model", opts.Model),
		zap.Int("rows", len(unique)),
		zap.Int("todo", len(todo)),
		zap.Int("cache_hits", r.result.CacheHits))

	unresolved := make(map[int64]bool)

	if len(todo) > 0 {
		chunks := chunker.Split(todo, r.chunkOptions())
		r.chunks = len(chunks)
		r.result.Planned = len(chunks)
		r.emit(StateChunked, 0)

		byID := make(map[int64]models.InputRow, len(todo))
		for _, row := range todo {
			byID[row.ID] = row
		}

		for i, chunk := range chunks {
			parsed, err := r.labelChunk(ctx, chunk, byID)
			if err != nil {
				return r.result, err
			}

			records := make([]models.LabelRecord, 0, len(chunk.IDs))
			for _, id := range chunk.IDs {
				p, ok := parsed[id]
				if !ok {
					// Defaulted below; kept out of the ledger so the next run retries it.
					unresolved[id] = true
					continue
				}
				records = append(records, p.Record(id, sigs[id], opts.Model))
			}

			r.result.Added += led.Merge(records...)
			if err := led.WriteFile(r.result.LedgerPath); err != nil {
				return r.result, fmt.Errorf("failed to persist ledger: %w", err)
			}
			r.emit(StateMerged, i+1)
		}
	}

	r.emit(StateMerged, r.chunks)

	r.result.Records = make([]models.LabelRecord, 0, len(unique))
	for _, row := range unique {
		rec, ok := led.Get(ledger.Key{ID: row.ID, Signature: sigs[row.ID]})
		if !ok {
			rec = models.DefaultRecord(row.ID, sigs[row.ID])
		}
		rec.Model = opts.Model
		rec.Unresolved = unresolved[row.ID]
		if rec.Unresolved {
			r.result.Unresolved = append(r.result.Unresolved, row.ID)
		}
		r.result.Records = append(r.result.Records, rec)
	}

	r.emit(StateDone, r.chunks)

	l.logger.Info("Labeling run completed",
		zap.String("model", opts.Model),
		zap.Int("planned", r.result.Planned),
		zap.Int("made", r.result.Made),
		zap.Int("cache_hits", r.result.CacheHits),
		zap.Int("added", r.result.Added),
		zap.Int("unresolved", len(r.result.Unresolved)))

	return r.result, nil
}

// labelChunk requests one chunk and re-requests missing ids for up to
// RepairPasses passes.
func (r *run) labelChunk(ctx context.Context, chunk chunker.Chunk, byID map[int64]models.InputRow) (map[int64]reply.Partial, error) {
	r.emit(StateCalling, 0)
	parsed, err := r.request(ctx, chunk)
	if err != nil {
		return nil, err
	}
	r.emit(StateParsing, 0)

	missing := missingIDs(chunk.IDs, parsed)
	for pass := 1; pass <= r.opts.RepairPasses && len(missing) > 0; pass++ {
		r.emit(StateRepairing, 0)
		r.logger.Warn("Reply missing rows, repairing",
			zap.String("model", r.opts.Model),
			zap.Int("pass", pass),
			zap.Int("missing", len(missing)))

		rows := make([]models.InputRow, 0, len(missing))
		for _, id := range missing {
			rows = append(rows, byID[id])
		}
		for _, sub := range chunker.Split(rows, r.chunkOptions()) {
			got, err := r.request(ctx, sub)
			if err != nil {
				return nil, err
			}
			for id, p := range got {
				parsed[id] = p
			}
		}
		missing = missingIDs(chunk.IDs, parsed)
	}

	if len(missing) > 0 {
		r.logger.Warn("Rows unresolved after repair passes, using defaults",
			zap.String("model", r.opts.Model),
			zap.Int64s("ids", missing))
	}
	return parsed, nil
}

func (r *run) request(ctx context.Context, chunk chunker.Chunk) (map[int64]reply.Partial, error) {
	if err := r.opts.Limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait cancelled: %w", err)
	}

	r.result.Made++
	raw := r.completer.Complete(ctx, models.CompletionRequest{
		Model:     r.opts.Model,
		System:    r.system,
		User:      chunk.User,
		MaxTokens: MaxTokens(r.opts.TokensPerRow, len(chunk.IDs)),
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	parsed := reply.Parse(raw, chunk.IDs)
	r.logger.Debug("Chunk answered",
		zap.String("model", r.opts.Model),
		zap.Int("rows", len(chunk.IDs)),
		zap.Int("parsed", len(parsed)),
		zap.Int("reply_len", len(raw)))
	return parsed, nil
}

func (r *run) chunkOptions() chunker.Options {
	return chunker.Options{
		System:         r.system,
		CharBudget:     r.opts.MaxPromptChars,
		IncludeContext: r.opts.IncludeContext,
	}
}

func (r *run) emit(state State, chunk int) {
	if r.opts.Progress == nil {
		return
	}
	r.opts.Progress(Progress{
		Model:     r.opts.Model,
		State:     state,
		Step:      state.String(),
		Planned:   r.result.Planned,
		Made:      r.result.Made,
		CacheHits: r.result.CacheHits,
		Chunk:     chunk,
		Chunks:    r.chunks,
	})
}

// distinct keeps the first row per id and computes signatures.
func distinct(rows []models.InputRow) ([]models.InputRow, map[int64]string, error) {
	unique := make([]models.InputRow, 0, len(rows))
	sigs := make(map[int64]string, len(rows))
	for _, row := range rows {
		if row.ID < 0 {
			return nil, nil, fmt.Errorf("row id %d is negative", row.ID)
		}
		if _, seen := sigs[row.ID]; seen {
			continue
		}
		sigs[row.ID] = signature.Of(row.Text)
		unique = append(unique, row)
	}
	return unique, sigs, nil
}

func missingIDs(ids []int64, parsed map[int64]reply.Partial) []int64 {
	var missing []int64
	for _, id := range ids {
		if _, ok := parsed[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}
