package models

import "time"

// Template is a reusable title/body pattern. Placeholders are declared
// without brackets; source text references them as [Name].
type Template struct {
	Name         string    `json:"name"`
	TitlePattern string    `json:"title_pattern"`
	BodyPattern  string    `json:"body_pattern"`
	Category     string    `json:"category"`
	Placeholders []string  `json:"placeholders"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
