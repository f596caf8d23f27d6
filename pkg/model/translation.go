package model

import "time"

// Translation is a cached result of a successful gateway call.
type Translation struct {
	Key            string    `json:"key"`
	FromLanguage   string    `json:"from_language"`
	ToLanguage     string    `json:"to_language"`
	SourceText     string    `json:"source_text"`
	TranslatedText string    `json:"translated_text"`
	Hits           int64     `json:"hits"`
	CreatedAt      time.Time `json:"created_at"`
	LastUsedAt     time.Time `json:"last_used_at"`
}
