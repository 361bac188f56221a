package types

import "encoding/json"

// GenerateRequest is the payload of POST /generate. Exactly one of Prompts or
// Tokens must be set.
type GenerateRequest struct {
	// Raw prompts, tokenized by the server.
	// example: ["hello world","the quick"]
	Prompts []string `json:"prompts,omitempty"`
	// Pre-tokenized inputs, one token list per batch element.
	Tokens [][]string `json:"tokens,omitempty"`
	// Maximum sub-batch size; 0 submits the whole batch as one job.
	// example: 8
	MaxBatchSize int `json:"max_batch_size,omitempty" example:"8"`
	// Unit of MaxBatchSize: examples or tokens.
	// example: examples
	BatchType string `json:"batch_type,omitempty" example:"examples"`
	// Decoding options merged over the server defaults. Field names follow
	// the decoding options (beam_size, max_length, sampling_topk, ...).
	Options json.RawMessage `json:"options,omitempty" swaggertype:"object"`
	// Maximum tokens to generate after each prompt. Sets min/max length
	// relative to the prompt length when Options does not.
	// example: 32
	MaxNewTokens int `json:"max_new_tokens,omitempty" example:"32"`
	// If true, the model's end-of-sequence token is never generated.
	// example: false
	SuppressEOS bool `json:"suppress_eos,omitempty" example:"false"`
	// If true, stream one NDJSON line per decoding step before the results.
	// example: true
	Stream bool `json:"stream,omitempty" example:"true"`
}

// StepLine is one streamed decoding step.
type StepLine struct {
	// example: 0
	Step int `json:"step" example:"0"`
	// example: 1
	BatchID int `json:"batch_id" example:"1"`
	// example: 17
	TokenID int `json:"token_id" example:"17"`
	// example: ▁world
	Token string `json:"token" example:"▁world"`
	// Present only when scores were requested.
	LogProb *float32 `json:"log_prob,omitempty"`
	// example: false
	IsLast bool `json:"is_last" example:"false"`
}

// Hypothesis is one generated sequence in a result line.
type Hypothesis struct {
	Tokens []string `json:"tokens"`
	IDs    []int    `json:"ids"`
	// Decoded text of Tokens, when the server has a tokenizer.
	Text  string   `json:"text,omitempty"`
	Score *float32 `json:"score,omitempty"`
}

// BatchResult groups the hypotheses of one input.
type BatchResult struct {
	// example: 0
	BatchID    int          `json:"batch_id" example:"0"`
	Hypotheses []Hypothesis `json:"hypotheses"`
}

// FinalLine terminates a /generate response.
type FinalLine struct {
	// example: true
	Done bool `json:"done" example:"true"`
	// example: 3f2c9a3e-5a4b-4a53-9a57-6a2f1f1c2b7d
	RequestID string        `json:"request_id" example:"3f2c9a3e-5a4b-4a53-9a57-6a2f1f1c2b7d"`
	Results   []BatchResult `json:"results"`
	// example: 12
	Steps int `json:"steps" example:"12"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	// List of available models.
	Models []Model `json:"models"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
	// Offending option when the error is a decoding configuration error.
	// example: min_length
	Field string `json:"field,omitempty" example:"min_length"`
}

// EngineStatus is a point-in-time view of an engine handle.
type EngineStatus struct {
	// example: 5b0c7f5e-1d0a-4d2b-8d4f-29a0e8f3d8c1
	ID string `json:"id"`
	// example: hashlm
	Backend string `json:"backend" example:"hashlm"`
	// example: cpu
	Device        string `json:"device" example:"cpu"`
	DeviceIndices []int  `json:"device_indices"`
	// example: default
	ComputeType string `json:"compute_type" example:"default"`
	// example: 4
	NumReplicas int `json:"num_replicas" example:"4"`
	// example: 0
	QueuedBatches int `json:"queued_batches" example:"0"`
	// example: 1
	ActiveBatches int `json:"active_batches" example:"1"`
	// Negative means unbounded.
	// example: 16
	MaxQueuedBatches int `json:"max_queued_batches" example:"16"`
	// example: 120
	BatchesTotal uint64 `json:"batches_total" example:"120"`
	// example: 3
	OverloadedTotal uint64 `json:"overloaded_total" example:"3"`
	// example: false
	Closed bool `json:"closed" example:"false"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Overall state (loading, ready, error).
	// example: ready
	State string `json:"state" example:"ready"`
	// Model the engine was opened on.
	// example: hash-small
	Model string `json:"model" example:"hash-small"`
	// Engine handle introspection; absent while loading.
	Engine *EngineStatus `json:"engine,omitempty"`
	// Last error observed by the service (if any).
	LastError string `json:"last_error,omitempty"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}
