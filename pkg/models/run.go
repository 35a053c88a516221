package models

import "time"

// Run summarizes one storefront build for the run log.
type Run struct {
	ID         string        `json:"id"`
	StartedAt  time.Time     `json:"startedAt"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"durationMs"`
	Songs      int           `json:"songs"`
	Albums     int           `json:"albums"`
	Merch      int           `json:"merch"`
	Degraded   []string      `json:"degraded"`
	Error      string        `json:"error,omitempty"`
}

// Total returns the number of products the run produced.
func (r Run) Total() int {
	return r.Songs + r.Albums + r.Merch
}
