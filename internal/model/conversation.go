package model

import "time"

// MessageRole - роль автора сообщения в диалоге
type MessageRole string

const (
	RoleUser  MessageRole = "user"
	RoleAgent MessageRole = "agent"
)

// MessageStatus - статус, который агент выставляет своему сообщению.
// Статус последнего агентского сообщения управляет гейтом профилирования.
type MessageStatus string

const (
	StatusProfilingRequired MessageStatus = "new_user_profiling_required"
	StatusProceed           MessageStatus = "proceed"
	StatusSuccess           MessageStatus = "success"
	StatusStop              MessageStatus = "stop"
	StatusRequestMoreInfo   MessageStatus = "request_more_info"
)

// Message - одно сообщение диалога
type Message struct {
	Role    MessageRole   `json:"role"`
	Content string        `json:"content"`
	Status  MessageStatus `json:"status,omitempty"`
}

// Conversation - один ход диалога (пара сообщений user/agent).
// ID монотонный, уникальный, выдается как max(existing)+1.
type Conversation struct {
	ID          int64     `json:"id"`
	UserID      string    `json:"user_id"`
	Timestamp   time.Time `json:"timestamp"`
	Messages    []Message `json:"messages"`
	LastUpdated time.Time `json:"last_updated"`
}

// LastAgentMessage возвращает последнее сообщение агента, если есть
func (c *Conversation) LastAgentMessage() *Message {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleAgent {
			return &c.Messages[i]
		}
	}
	return nil
}

// LastMessage возвращает последнее сообщение диалога, если есть
func (c *Conversation) LastMessage() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return &c.Messages[len(c.Messages)-1]
}
