package bus

// InboundMessage is one user message handed to the pipeline.
type InboundMessage struct {
	Channel           string            `json:"channel"`
	SenderID          string            `json:"sender_id"`
	ChatID            string            `json:"chat_id"`
	Content           string            `json:"content"`
	PreferredLanguage string            `json:"preferred_language,omitempty"`
	RequestID         string            `json:"request_id,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// OutboundMessage is the reply produced for one InboundMessage.
type OutboundMessage struct {
	Channel   string            `json:"channel"`
	ChatID    string            `json:"chat_id"`
	RequestID string            `json:"request_id,omitempty"`
	Content   string            `json:"content"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}
