// Package core defines the shared types, interfaces and error taxonomy for
// the completion orchestration core.
package core

// Message roles. Providers only ever see these three.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn lifecycle statuses. A turn is replayed into new requests only once it
// reaches StatusComplete.
const (
	StatusPending  = "pending"
	StatusComplete = "complete"
	StatusError    = "error"
)

// Message represents a single role/content pair in a completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the normalized unit of work handed to a provider
// adapter. Messages holds the filtered conversation history, including a
// leading system turn when the conversation carries system instructions.
// It is immutable once constructed for a given exchange.
type CompletionRequest struct {
	Model       string
	Messages    []Message
	Temperature *float64
	Reasoning   string
}

// ReasoningDirective is the synthetic system turn that embeds a reasoning
// level in-band for dialects without a first-class reasoning parameter. The
// same turn is prepended to the accounting input so billed tokens match what
// the provider actually saw.
func ReasoningDirective(level string) Message {
	return Message{
		Role:    RoleSystem,
		Content: "Reasoning level: " + level + ".",
	}
}

// Chunk is one unit of streamed completion output. A non-nil Err is
// terminal: the adapter closes the channel after sending it.
type Chunk struct {
	Text string
	Err  error
}

// Usage holds the token counts produced by a provider adapter's accounting
// routine. Approximate is set when the counts are estimated rather than
// computed by a real tokenizer.
type Usage struct {
	InputTokens  int
	OutputTokens int
	Approximate  bool
}

// CompletionResult is the terminal artifact of one exchange. Produced
// exactly once; Status is either StatusComplete or StatusError.
type CompletionResult struct {
	Text              string
	InputTokens       int
	OutputTokens      int
	Cost              float64
	TokensApproximate bool
	Status            string
	ErrorType         ErrorType
	ErrorDetail       string
}
