package database

import "time"

// SetNow pins the clock used for policy date windows.
func (r *Repository) SetNow(now func() time.Time) {
	r.now = now
}
