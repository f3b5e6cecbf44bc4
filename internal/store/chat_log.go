package store

import (
	"time"

	"github.com/google/uuid"
)

// ChatLogEntry is one chat turn as written to ai-chat.log.
type ChatLogEntry struct {
	Timestamp time.Time  `json:"timestamp"`
	UserID    string     `json:"user_id,omitempty"`
	ErrorID   *uuid.UUID `json:"error_id,omitempty"`
	Message   string     `json:"message"`
	Response  string     `json:"response,omitempty"`
	Failed    bool       `json:"failed,omitempty"`
}

// ChatLog appends chat turns to a JSON-lines file.
type ChatLog struct {
	sink *jsonLines
}

func NewChatLog(path string) (*ChatLog, error) {
	sink, err := openJSONLines(path)
	if err != nil {
		return nil, err
	}
	return &ChatLog{sink: sink}, nil
}

func (c *ChatLog) Append(entry ChatLogEntry) error {
	return c.sink.append(entry)
}

func (c *ChatLog) Close() error {
	return c.sink.close()
}
