package models

import "time"

// Message is one entry on a session's discussion board. A post is its own
// parent (ParentID == ID); a comment points at the lecturer post it replies to.
type Message struct {
	ID             string `gorm:"primaryKey"`
	SessionID      string `gorm:"index"`
	UserID         string
	Content        string
	ParentID       string
	IsLecturerPost bool
	IsComment      bool
	CreatedAt      time.Time
}

func (m *Message) IsPost() bool {
	return m.ParentID == m.ID
}
