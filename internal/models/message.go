package models

import "time"

// Sender identifies who wrote a message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderAI   Sender = "ai"
)

// Valid reports whether s is one of the known senders.
func (s Sender) Valid() bool {
	return s == SenderUser || s == SenderAI
}

// Message is a single immutable entry in a conversation's log.
type Message struct {
	ID             string    `json:"id" db:"id"`
	ConversationID string    `json:"conversation_id" db:"conversation_id"`
	Sender         Sender    `json:"sender" db:"sender"`
	Text           string    `json:"text" db:"text"`
	Timestamp      time.Time `json:"timestamp" db:"timestamp"`
	Seq            int64     `json:"-" db:"seq"`
}
