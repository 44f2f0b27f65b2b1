// Package chunker packs labeling rows into prompt-sized requests.
package chunker

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"sentiment-labeler/internal/models"
)

// Header opens every user message.
const Header = "Classify id<TAB>text. Return one CSV line per input row in the same order.\n\n"

const (
	DefaultRowCap       = 4000
	DefaultSafetyMargin = 128
)

// Options controls how rows are rendered and packed.
type Options struct {
	System         string // system message sent with every chunk
	CharBudget     int    // upper bound for len(system)+len(user)
	RowCap         int    // max characters of text per row
	SafetyMargin   int
	IncludeContext bool // prefix text with reply/likes/posted
}

// Chunk is one request worth of rows.
type Chunk struct {
	IDs  []int64
	User string
}

var lineBreaks = strings.NewReplacer("\r", " ", "\n", " ")

// Split packs rows greedily, preserving order. A row whose line alone exceeds
// the budget becomes a chunk of its own.
func Split(rows []models.InputRow, opts Options) []Chunk {
	if len(rows) == 0 {
		return nil
	}

	budget := LineBudget(opts)

	var (
		chunks []Chunk
		ids    []int64
		lines  []string
		used   int
	)

	flush := func() {
		chunks = append(chunks, Chunk{
			IDs:  ids,
			User: Header + strings.Join(lines, "\n"),
		})
		ids, lines, used = nil, nil, 0
	}

	for _, row := range rows {
		line := RenderLine(row, opts)
		add := utf8.RuneCountInString(line) + 1
		if used > 0 && used+add > budget {
			flush()
		}
		ids = append(ids, row.ID)
		lines = append(lines, line)
		used += add
	}
	if len(ids) > 0 {
		flush()
	}

	return chunks
}

// LineBudget is the number of characters available for row lines.
func LineBudget(opts Options) int {
	margin := opts.SafetyMargin
	if margin <= 0 {
		margin = DefaultSafetyMargin
	}
	budget := opts.CharBudget -
		utf8.RuneCountInString(opts.System) -
		utf8.RuneCountInString(Header) -
		margin
	if budget < 1 {
		budget = 1
	}
	return budget
}

// RenderLine formats a row as id<TAB>text with line breaks flattened.
// RowCap bounds the text only; the optional context prefix comes on top.
func RenderLine(row models.InputRow, opts Options) string {
	rowCap := opts.RowCap
	if rowCap <= 0 {
		rowCap = DefaultRowCap
	}

	text := truncate(lineBreaks.Replace(row.Text), rowCap)

	var b strings.Builder
	b.WriteString(strconv.FormatInt(row.ID, 10))
	b.WriteByte('\t')
	if opts.IncludeContext {
		b.WriteString("[reply=")
		if row.IsReply {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
		b.WriteString(" likes=")
		b.WriteString(strconv.Itoa(row.Likes))
		if row.Posted != "" {
			b.WriteString(" posted=")
			b.WriteString(lineBreaks.Replace(row.Posted))
		}
		b.WriteString("] ")
	}
	b.WriteString(text)
	return b.String()
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
