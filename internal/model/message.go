package model

import "time"

// Clear marker contents. A message carrying one of these is an instruction
// to hide everything at or before it, never chat text.
const (
	GlobalClearMarker = ":::CHAT_CLEARED_GLOBAL:::"
	AdminClearMarker  = ":::CHAT_CLEARED_ADMIN:::"
)

// SystemUnitID authors clear markers.
const SystemUnitID = "SYSTEM"

// Message is one immutable chat log entry.
type Message struct {
	ID        string    `json:"id"`
	Seq       int64     `json:"seq"`
	UnitID    string    `json:"unit_id"`
	Content   string    `json:"content"`
	Color     string    `json:"color"`
	CreatedAt time.Time `json:"created_at"`
}

// IsClearMarker reports whether m truncates the visible history.
func (m Message) IsClearMarker() bool {
	return m.Content == GlobalClearMarker || m.Content == AdminClearMarker
}
