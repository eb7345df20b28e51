package config

import "time"

func DefaultConfig() *Config {
	return &Config{
		DataDirectory: "~/.local/share/nlsql",
		Provider: ProviderConfig{
			Type: "ollama",
		},
		Ollama: OllamaConfig{
			Host:  "http://localhost:11434",
			Model: "qwen2.5-coder:7b",
		},
		Dataset: DatasetConfig{
			Path:           "SCORES.db",
			Table:          "transaction_score",
			ReadOnlyPolicy: "lexical",
		},
		Agent: AgentConfig{
			MaxSteps:        10,
			DecisionTimeout: Duration{120 * time.Second},
			InvokeTimeout:   Duration{30 * time.Second},
			Rewrite:         true,
			TableHint:       true,
		},
		Session: SessionConfig{
			ShowSteps:   true,
			SaveHistory: true,
		},
	}
}

func GenerateConfigTemplate() string {
	return `# nlsql configuration
# Location: ~/.config/nlsql/config.toml
# This file uses TOML format: https://toml.io

# Directory for the debug log and saved sessions
data_directory = "~/.local/share/nlsql"

[provider]
# Reasoning engine: "ollama", "openai", "openrouter" or "anthropic"
type = "ollama"
# model = ""          # overrides [ollama].model for ollama, required for cloud providers
# base_url = ""
# api_key_env = ""    # e.g. "OPENAI_API_KEY"

[ollama]
host = "http://localhost:11434"
model = "qwen2.5-coder:7b"

[dataset]
path = "SCORES.db"
table = "transaction_score"
# "lexical" rejects anything that is not a SELECT/WITH statement and opens the
# database with query_only. "prompt" only asks the model to stay read-only.
read_only_policy = "lexical"

[agent]
# Upper bound on reasoning steps per question. Must be set explicitly.
max_steps = 10
decision_timeout = "120s"
invoke_timeout = "30s"
# Turn the question into SQL with worked examples before the agent runs
rewrite = true
# Append " in the table <table>" to every question
table_hint = true

[session]
# Show each capability call and its result in the transcript
show_steps = true
# Keep finished sessions under <data_directory>/sessions
save_history = true

[capabilities]
# Command that serves the capabilities over stdio. Empty means "<this binary> serve".
# command = ""
# args = []
`
}
