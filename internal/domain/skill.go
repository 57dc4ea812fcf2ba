package domain

// Skill scopes a turn to a system prompt and a subset of tools. It is
// activated by a message beginning with "/<trigger>".
type Skill struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	Trigger      string   `yaml:"trigger"`
	SystemPrompt string   `yaml:"system_prompt"`
	Tools        []string `yaml:"tools"`
}
