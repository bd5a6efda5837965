package models

// StreamEventKind identifies a client-facing stream event.
type StreamEventKind string

const (
	// StreamUpdate carries a StructuredResponse payload: a thinking
	// notification, a mid-loop structured body, or plain assistant text.
	StreamUpdate StreamEventKind = "stream_update"

	// StreamContent carries raw executor output that is neither a structured
	// update nor an error.
	StreamContent StreamEventKind = "content"

	// StreamError surfaces an executor error raised during streaming.
	StreamError StreamEventKind = "error"

	// StreamErrorMessage carries human-friendly guidance for classified
	// provider errors.
	StreamErrorMessage StreamEventKind = "error_message"

	// StreamComplete is always the last event of a stream absent an error.
	StreamComplete StreamEventKind = "stream_complete"
)

// StreamEvent is one ordered entry in an InvokeStream response.
type StreamEvent struct {
	Kind StreamEventKind `json:"kind"`

	// Update is set for stream_update events whose body is structured
	// (thinking updates and parsed StructuredResponses).
	Update *StructuredResponse `json:"update,omitempty"`

	// Content is set for text stream_updates, content, error, and
	// error_message events.
	Content string `json:"content,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`

	// Completion is set on the terminal stream_complete event.
	Completion *StreamCompletion `json:"completion,omitempty"`
}

// StreamCompletion summarizes a finished stream.
type StreamCompletion struct {
	ThreadID        string `json:"thread_id"`
	ConversationID  string `json:"conversation_id"`
	ChunksProcessed int    `json:"chunks_processed"`
	Status          string `json:"status,omitempty"`
}
