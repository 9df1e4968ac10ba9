package config

// ModelConfig selects and configures the model service. An empty Name
// leaves the provider's default model in place.
type ModelConfig struct {
	Provider    string  `yaml:"provider"`
	Name        string  `yaml:"name"`
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Temperature float64 `yaml:"temperature"`
	TopP        float64 `yaml:"top_p"`
	MaxTokens   int     `yaml:"max_tokens"`
	Seed        int64   `yaml:"seed"`
}

func defaultModelConfig() ModelConfig {
	return ModelConfig{
		Provider:    "openai",
		Temperature: 0.7,
		TopP:        0.95,
		MaxTokens:   8192,
	}
}

func (c *ModelConfig) loadEnv() {
	c.Provider = getEnv("MODEL_PROVIDER", c.Provider)
	c.Name = getEnv("MODEL_NAME", c.Name)
	c.BaseURL = getEnv("MODEL_BASE_URL", c.BaseURL)
	c.APIKey = getEnv("MODEL_API_KEY", c.APIKey)
	c.Temperature = getEnvFloat("MODEL_TEMPERATURE", c.Temperature)
	c.TopP = getEnvFloat("MODEL_TOP_P", c.TopP)
	c.MaxTokens = getEnvInt("MODEL_MAX_TOKENS", c.MaxTokens)
	c.Seed = getEnvInt64("MODEL_SEED", c.Seed)
}
