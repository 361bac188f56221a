package engine

import (
	"strings"
)

// BatchType selects the unit of maxBatchSize.
type BatchType int

const (
	// BatchExamples bounds the number of inputs per sub-batch.
	BatchExamples BatchType = iota
	// BatchTokens bounds inputs times the longest input length.
	BatchTokens
)

func (b BatchType) String() string {
	if b == BatchTokens {
		return "tokens"
	}
	return "examples"
}

// ParseBatchType accepts "examples" (also the empty string) or "tokens".
func ParseBatchType(s string) (BatchType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "examples":
		return BatchExamples, nil
	case "tokens":
		return BatchTokens, nil
	}
	return 0, newError(KindConfiguration, "batch_type", "unknown batch type %q", s)
}

// StepEvent reports one generated token of one batch element.
type StepEvent struct {
	Step    int
	BatchID int
	// TokenID is -1 when the backend does not expose ids.
	TokenID int
	Token   string
	// LogProb is set when HasLogProb is true (ReturnScores).
	LogProb    float32
	HasLogProb bool
	// IsLast marks the final event of the element.
	IsLast bool
}

// StepCallback observes step events. Returning true stops the element; its
// result keeps the tokens generated so far. Returning true on the event
// flagged IsLast has no further effect.
type StepCallback func(StepEvent) (stop bool)

// Result is one hypothesis of one input.
type Result struct {
	BatchID    int
	Hypothesis int
	Tokens     []string
	IDs        []int
	Score      float32
	HasScore   bool
}
