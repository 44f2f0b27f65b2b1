package models

import "time"

// Platform identifies where a row was collected.
type Platform string

const (
	PlatformTwitter  Platform = "twitter"
	PlatformYouTube  Platform = "youtube"
	PlatformTelegram Platform = "telegram"
	PlatformUnknown  Platform = ""
)

// InputRow is one row of the table handed to the labeler.
type InputRow struct {
	ID       int64    `json:"id" db:"id" binding:"min=0"`
	Text     string   `json:"text" db:"text"`
	Likes    int      `json:"likes,omitempty" db:"likes"`
	IsReply  bool     `json:"is_reply,omitempty" db:"is_reply"`
	Posted   string   `json:"posted,omitempty" db:"posted"`
	Platform Platform `json:"platform,omitempty" db:"platform"`

	// Optional scores from an external lexicon scorer, carried into exports.
	LexiconLabel string   `json:"vader_label,omitempty" db:"vader_label"`
	LexiconScore *float64 `json:"vader,omitempty" db:"vader"`
}

// LabelRecord is the labeler's verdict for one row under one model.
type LabelRecord struct {
	ID         int64   `json:"id"`
	Label      Label   `json:"llm_label"`
	Score      float64 `json:"llm_score"`
	Sarcasm    bool    `json:"llm_sarcasm"`
	Ethics     Ethics  `json:"llm_ethics"`
	Signature  string  `json:"cache_sig"`
	Model      string  `json:"model,omitempty"`
	Unresolved bool    `json:"unresolved,omitempty"` // defaulted after repair passes; never written to a ledger
}

// DefaultRecord is the verdict given to a row the model never answered.
func DefaultRecord(id int64, sig string) LabelRecord {
	return LabelRecord{
		ID:         id,
		Label:      Neutral,
		Score:      0,
		Sarcasm:    false,
		Ethics:     Ethics{},
		Signature:  sig,
		Unresolved: true,
	}
}

// CompletionRequest is a single chat-completion call for one chunk.
type CompletionRequest struct {
	Model     string
	System    string
	User      string
	MaxTokens int
}

// GroundTruth is a human annotation used to evaluate model labels.
type GroundTruth struct {
	ID        int64     `json:"id" db:"id"`
	Text      string    `json:"text" db:"text"`
	Label     Label     `json:"human_label" db:"human_label"`
	Sarcasm   bool      `json:"human_sarcasm" db:"human_sarcasm"`
	Ethics    string    `json:"human_ethics" db:"human_ethics"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
