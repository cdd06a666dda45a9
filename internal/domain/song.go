package domain

import "time"

// Song is a playlist entry announced by the relay; Duration is in seconds.
type Song struct {
	Name     string `json:"name"`
	Path     string `json:"path,omitempty"`
	Duration uint   `json:"duration,omitempty"`
}

func (s Song) Length() time.Duration {
	return time.Duration(s.Duration) * time.Second
}
