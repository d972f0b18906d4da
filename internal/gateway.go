// Package gateway defines domain types and interfaces for the llm-router
// gateway. This package has no project imports -- it is the dependency root.
package gateway

import (
	"context"
	"encoding/json"
	"time"
)

// --- Provider registry records ---

// Dialect identifies an upstream provider's wire protocol variant.
type Dialect string

const (
	DialectOpenAIChat        Dialect = "openai_chat"
	DialectAnthropicMessages Dialect = "anthropic_messages"
	DialectAzureOpenAI       Dialect = "azure_openai"
	DialectBedrockInvoke     Dialect = "bedrock_invoke"
	DialectVertexPredict     Dialect = "vertex_predict"
	DialectMistral           Dialect = "mistral"
	DialectTogether          Dialect = "together"
	DialectFireworks         Dialect = "fireworks"
	DialectGroq              Dialect = "groq"
	DialectCohereChat        Dialect = "cohere_chat"
	DialectCohereEmbed       Dialect = "cohere_embed"
	DialectCohereRerank      Dialect = "cohere_rerank"
	DialectOpenRouter        Dialect = "openrouter"
	DialectHuggingFace       Dialect = "huggingface"
	DialectGGUFLocal         Dialect = "gguf_local"
)

// AuthScheme selects how an adapter authenticates to its upstream.
type AuthScheme string

const (
	AuthBearer          AuthScheme = "bearer"
	AuthAPIKeyHeader    AuthScheme = "api_key_header"
	AuthSigV4           AuthScheme = "sigv4"
	AuthServiceAccount  AuthScheme = "service_account"
	AuthManagedIdentity AuthScheme = "managed_identity"
)

// Capability is a bitmask of features a provider or model supports.
type Capability uint32

const (
	CapText Capability = 1 << iota
	CapChat
	CapStreaming
	CapEmbeddings
	CapFunctionCalling
	CapVision
	CapRerank
)

// Has reports whether c includes all bits of want.
func (c Capability) Has(want Capability) bool { return c&want == want }

// ProviderInfo is a registered backend definition. Immutable once published;
// admin updates replace the registry snapshot with a version bump.
type ProviderInfo struct {
	ID           string     `json:"id" yaml:"id"`
	BaseURL      string     `json:"base_url" yaml:"base_url"`
	Dialect      Dialect    `json:"dialect" yaml:"dialect"`
	Auth         AuthScheme `json:"auth" yaml:"auth"`
	Capabilities Capability `json:"capabilities" yaml:"-"`
	// Declared cost per 1M tokens, USD.
	CostInPerM  float64  `json:"cost_in_per_m" yaml:"cost_in_per_m"`
	CostOutPerM float64  `json:"cost_out_per_m" yaml:"cost_out_per_m"`
	RateBudget  int64    `json:"rate_budget" yaml:"rate_budget"`   // requests per minute
	MaxInflight int      `json:"max_inflight" yaml:"max_inflight"` // concurrent dispatch cap, 0 = default
	Models      []string `json:"models" yaml:"models"`
	Region      string   `json:"region,omitempty" yaml:"region"`
	Compliance  []string `json:"compliance,omitempty" yaml:"compliance"`
	Version     int      `json:"version" yaml:"-"`
}

// ModelInfo describes a model hosted by a provider.
type ModelInfo struct {
	ID            string     `json:"id"`
	ProviderID    string     `json:"provider_id"`
	ContextWindow int        `json:"context_window"`
	Capabilities  Capability `json:"-"`
	Quality       float64    `json:"quality"` // declared, [0,1]
	Loaded        bool       `json:"loaded"`  // meaningful only for gguf_local
}

// --- Normalized request / response ---

// Role values for normalized messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is a single normalized chat turn.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"toolCallId,omitempty"` // set on role=tool results
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`  // set on assistant turns
}

// Tool declares a function the model may call.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"` // JSON schema, passed through
}

// ToolCall is a model-requested function invocation.
type ToolCall struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON text
}

// ToolChoice constrains function calling. "auto" and "required" are special;
// any other value names a specific tool.
type ToolChoice string

const (
	ToolChoiceAuto     ToolChoice = "auto"
	ToolChoiceRequired ToolChoice = "required"
)

// ResponseFormat selects plain text or JSON output.
type ResponseFormat string

const (
	FormatText       ResponseFormat = "text"
	FormatJSONObject ResponseFormat = "json_object"
)

// Sampling bundles decode parameters. Nil pointers mean provider defaults.
type Sampling struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"topP,omitempty"`
	TopK             *int     `json:"topK,omitempty"`
	FrequencyPenalty *float64 `json:"frequencyPenalty,omitempty"`
	PresencePenalty  *float64 `json:"presencePenalty,omitempty"`
	StopSequences    []string `json:"stopSequences,omitempty"`
}

// Request is the normalized inference request all adapters encode from.
// Ephemeral; never persisted.
type Request struct {
	Prompt   string    `json:"prompt,omitempty"`
	Messages []Message `json:"messages,omitempty"`

	Model string `json:"model,omitempty"` // hint; router may override unless Pin
	Pin   bool   `json:"pin,omitempty"`

	Sampling  Sampling `json:"sampling"`
	MaxTokens int      `json:"maxTokens,omitempty"`
	Stream    bool     `json:"stream,omitempty"`

	Tools          []Tool         `json:"tools,omitempty"`
	ToolChoice     ToolChoice     `json:"toolChoice,omitempty"`
	ResponseFormat ResponseFormat `json:"responseFormat,omitempty"`

	// Routing hints.
	MinQuality  float64    `json:"minQuality,omitempty"`
	MaxCost     float64    `json:"maxCostPerRequest,omitempty"`
	Urgent      bool       `json:"urgent,omitempty"`
	BudgetMode  bool       `json:"budget,omitempty"`
	RequireCaps Capability `json:"-"`

	Metadata map[string]string `json:"metadata,omitempty"` // opaque, echoed back
}

// ChatMessages returns the message list, synthesizing a single user turn
// from Prompt when no messages were supplied.
func (r *Request) ChatMessages() []Message {
	if len(r.Messages) > 0 {
		return r.Messages
	}
	if r.Prompt == "" {
		return nil
	}
	return []Message{{Role: RoleUser, Content: r.Prompt}}
}

// FinishReason enumerates why generation stopped.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishToolCall      FinishReason = "tool_call"
	FinishContentFilter FinishReason = "content_filter"
	FinishError         FinishReason = "error"
)

// Usage holds token accounting for one exchange.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Response is the normalized inference response all adapters decode to.
type Response struct {
	Text         string            `json:"text"`
	Model        string            `json:"model"`    // "<provider>:<modelId>"
	Provider     string            `json:"provider"` // provider id
	Usage        Usage             `json:"usage"`
	CostUSD      float64           `json:"cost"`
	FinishReason FinishReason      `json:"finishReason"`
	ToolCalls    []ToolCall        `json:"toolCalls,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LatencyMs    int64             `json:"-"`
	Cached       bool              `json:"-"`
}

// StreamChunk is one frame of a normalized streaming response. A terminal
// chunk carries FinishReason (exactly once per stream) and final Usage.
type StreamChunk struct {
	Delta         string       `json:"delta,omitempty"`
	ToolCallDelta *ToolCall    `json:"toolCallDelta,omitempty"`
	FinishReason  FinishReason `json:"finishReason,omitempty"`
	Usage         *Usage       `json:"usage,omitempty"`
	Err           error        `json:"-"`
}

// EmbedRequest asks for vector embeddings of the given texts.
type EmbedRequest struct {
	Model  string   `json:"model,omitempty"`
	Inputs []string `json:"inputs"`
}

// EmbedResponse carries one vector per input, in order.
type EmbedResponse struct {
	Model   string      `json:"model"`
	Vectors [][]float64 `json:"vectors"`
	Usage   Usage       `json:"usage"`
}

// ScoredDoc is one reranked document.
type ScoredDoc struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
	Text  string  `json:"text,omitempty"`
}

// HealthStatus is the result of a provider health probe.
type HealthStatus struct {
	OK            bool          `json:"ok"`
	Latency       time.Duration `json:"latency"`
	RateRemaining int64         `json:"rateRemaining"` // -1 when unknown
}

// --- Provider adapter contract ---

// Provider is the interface every upstream adapter implements. Invoke and
// Stream operate on the normalized request/response shapes; translation to
// the provider's wire dialect is the adapter's concern.
type Provider interface {
	// Name returns the provider instance identifier.
	Name() string
	// Dialect returns the wire protocol the adapter speaks.
	Dialect() Dialect
	// Invoke sends a non-streaming inference request.
	Invoke(ctx context.Context, req *Request) (*Response, error)
	// Stream sends a streaming inference request. The returned channel is
	// finite and non-restartable; it is closed after the terminal chunk.
	Stream(ctx context.Context, req *Request) (<-chan StreamChunk, error)
	// Embed generates embeddings for the given inputs.
	Embed(ctx context.Context, req *EmbedRequest) (*EmbedResponse, error)
	// Health verifies connectivity to the upstream.
	Health(ctx context.Context) error
	// EstimateCost predicts the USD cost of serving req.
	EstimateCost(req *Request) float64
}

// Reranker is an optional interface for providers with a rerank endpoint.
type Reranker interface {
	Rerank(ctx context.Context, model, query string, docs []string) ([]ScoredDoc, error)
}

// ModelLoader is an optional interface for local-runner providers whose
// models can be loaded and unloaded at runtime.
type ModelLoader interface {
	LoadModel(ctx context.Context, model string) error
	UnloadModel(ctx context.Context, model string) error
}

// --- Routing ---

// Candidate is a (provider, model) pair considered by the router.
type Candidate struct {
	ProviderID string  `json:"provider"`
	Model      string  `json:"model"`
	Score      float64 `json:"score"`
}

// ScoreBreakdown records the per-factor scores behind a selection.
type ScoreBreakdown struct {
	Quality      float64 `json:"quality"`
	Cost         float64 `json:"cost"`
	Speed        float64 `json:"speed"`
	Availability float64 `json:"availability"`
	Reliability  float64 `json:"reliability"`
}

// Decision is the router's output for one request: the chosen candidate plus
// the ordered fallback list attempted on transient failure.
type Decision struct {
	RequestID string          `json:"requestId"`
	Strategy  string          `json:"strategy"`
	Chosen    Candidate       `json:"chosen"`
	Fallbacks []Candidate     `json:"fallbacks"`
	Scores    ScoreBreakdown  `json:"scores"`
	Features  RequestFeatures `json:"-"`
	Timestamp time.Time       `json:"timestamp"`
}

// Candidates returns the chosen candidate followed by the fallbacks.
func (d *Decision) Candidates() []Candidate {
	out := make([]Candidate, 0, 1+len(d.Fallbacks))
	out = append(out, d.Chosen)
	return append(out, d.Fallbacks...)
}

// RequestFeatures are the coarse features keying adaptive routing history.
type RequestFeatures struct {
	LengthBucket string `json:"lengthBucket"` // short | medium | long
	Complexity   string `json:"complexity"`   // low | medium | high
	Domain       string `json:"domain"`
	HasCode      bool   `json:"hasCode"`
	HasMath      bool   `json:"hasMath"`
}

// Outcome is fed back to the router after a dispatch completes.
type Outcome struct {
	ProviderID string
	Model      string
	Err        error
	Latency    time.Duration
	CostUSD    float64
	TokensOut  int
}

// UsageRecord is a single accounting event, persisted asynchronously.
type UsageRecord struct {
	ID               string    `json:"id"`
	KeyID            string    `json:"key_id"`
	UserID           string    `json:"user_id,omitempty"`
	Model            string    `json:"model"`
	ProviderID       string    `json:"provider_id"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	CostUSD          float64   `json:"cost_usd"`
	Cached           bool      `json:"cached"`
	LatencyMs        int       `json:"latency_ms"`
	StatusCode       int       `json:"status_code"`
	RequestID        string    `json:"request_id"`
	CreatedAt        time.Time `json:"created_at"`
}

// --- Context plumbing ---

type contextKey int

const ctxKeyMeta contextKey = 0

// requestMeta bundles per-request values into a single context allocation.
// The Identity field is set later by the authenticate middleware via mutation
// of the same pointer, avoiding a second context.WithValue.
type requestMeta struct {
	RequestID string
	Identity  *Identity
}

func metaFromContext(ctx context.Context) *requestMeta {
	m, _ := ctx.Value(ctxKeyMeta).(*requestMeta)
	return m
}

// IdentityFromContext extracts the authenticated identity from ctx, or nil.
func IdentityFromContext(ctx context.Context) *Identity {
	if m := metaFromContext(ctx); m != nil {
		return m.Identity
	}
	return nil
}

// ContextWithIdentity stores the identity in the existing requestMeta when
// present, avoiding a new context.WithValue allocation.
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	if m := metaFromContext(ctx); m != nil {
		m.Identity = id
		return ctx
	}
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{Identity: id})
}

// RequestIDFromContext extracts the request ID from ctx, or "".
func RequestIDFromContext(ctx context.Context) string {
	if m := metaFromContext(ctx); m != nil {
		return m.RequestID
	}
	return ""
}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{RequestID: id})
}
