package types

// Model formats recognised by the registry.
const (
	// FormatDir is a model directory with a config.json sidecar.
	FormatDir = "dir"
	// FormatGGUF is a single llama.cpp model file.
	FormatGGUF = "gguf"
)

// Model represents a discoverable model on disk.
type Model struct {
	// Stable identifier for the model (directory or file name).
	// example: hash-small
	ID string `json:"id" example:"hash-small"`
	// Human-friendly name.
	// example: hash-small
	Name string `json:"name" example:"hash-small"`
	// Absolute path to the model directory or file.
	// example: /home/user/models/hash-small
	Path string `json:"path" example:"/home/user/models/hash-small"`
	// Quantization level parsed from GGUF file names.
	// example: Q4_K_M
	Quant string `json:"quant,omitempty" example:"Q4_K_M"`
	// Architecture or family (e.g., hashlm, llama).
	// example: hashlm
	Family string `json:"family,omitempty" example:"hashlm"`
	// On-disk layout: dir or gguf.
	// example: dir
	Format string `json:"format" example:"dir"`
	// Default end-of-sequence token read from the model sidecar.
	// example: </s>
	EOS string `json:"eos_token,omitempty" example:"</s>"`
}
