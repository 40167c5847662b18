package domain

import "time"

// SpoolPosition is the committed read position in a spool file.
type SpoolPosition struct {
	Path      string    `json:"path"`
	Offset    int64     `json:"offset"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsZero reports whether no position has been saved.
func (p SpoolPosition) IsZero() bool {
	return p.Path == "" && p.Offset == 0
}
