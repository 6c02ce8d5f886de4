package services

// LLMParameters holds the generation knobs shared by all providers. All fields are optional;
// nil fields are left to the provider's defaults. Values come from external configuration and
// are never user-supplied.
type LLMParameters struct {
	Temperature *float32 `yaml:"temperature"`
	MaxTokens   *int     `yaml:"maxTokens"`
	TopP        *float32 `yaml:"topP"`
	Stop        []string `yaml:"stop"`
}
