// Types shared by the provider interface and every adapter.

package llm

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a single turn in a conversation (role + content).
type Message struct {
	Role    string // "system" | "user" | "assistant"
	Content string
}

// ChatResponse is the output from a non-streaming chat completion.
type ChatResponse struct {
	Content      string // The assistant message text.
	StopReason   string // "stop" | "length" | "error"
	InputTokens  int
	OutputTokens int
}

// EmbedRequest is the input for a batch embedding call.
type EmbedRequest struct {
	// Model overrides the provider default when non-empty.
	Model string
	Texts []string
}

// EmbedResponse is the output from a batch embedding call.
// Embeddings[i] corresponds to Texts[i] in the request.
type EmbedResponse struct {
	Embeddings [][]float32
	Tokens     int // Total tokens consumed.
}

// ModelMeta describes the model / provider identity.
type ModelMeta struct {
	ID       string // e.g. "gpt-4o-mini", "granite-3-8b-instruct"
	Provider string // provider type, e.g. "openai", "watsonx"
}
