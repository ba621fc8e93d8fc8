package sse

// The canonical stream event protocol exposed to chat consumers regardless of
// upstream provider quirks: exactly one start first, zero or more token
// events, exactly one terminal (end or error) last.

type EventType string

const (
	EventStart EventType = "start"
	EventToken EventType = "token"
	EventEnd   EventType = "end"
	EventError EventType = "error"
)

type StreamEvent struct {
	Type EventType `json:"type"`

	// start
	SessionID string `json:"sessionId,omitempty"`

	// start, end
	MessageID string `json:"messageId,omitempty"`

	// token
	Content string `json:"content,omitempty"`

	// end
	Model       string `json:"model,omitempty"`
	TotalTokens *int   `json:"totalTokens,omitempty"`

	// error
	Message string `json:"message,omitempty"`
}

func Start(sessionID, messageID string) StreamEvent {
	return StreamEvent{Type: EventStart, SessionID: sessionID, MessageID: messageID}
}

func Token(content string) StreamEvent {
	return StreamEvent{Type: EventToken, Content: content}
}

func End(messageID, model string, totalTokens *int) StreamEvent {
	return StreamEvent{Type: EventEnd, MessageID: messageID, Model: model, TotalTokens: totalTokens}
}

func Error(message string) StreamEvent {
	return StreamEvent{Type: EventError, Message: message}
}

// Terminal reports whether the event ends the stream.
func (e StreamEvent) Terminal() bool {
	return e.Type == EventEnd || e.Type == EventError
}
