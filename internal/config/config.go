package config

import (
	"errors"
	"os"

	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	LLM     LLMConfig     `mapstructure:"llm"`
	Runner  RunnerConfig  `mapstructure:"runner"`
	History HistoryConfig `mapstructure:"history"`
	Log     LogConfig     `mapstructure:"log"`
}

// LLMConfig holds the chat API configuration
type LLMConfig struct {
	Provider     string `mapstructure:"provider"`
	BaseURL      string `mapstructure:"base_url"`
	APIKey       string `mapstructure:"api_key"`
	Model        string `mapstructure:"model"`
	SystemPrompt string `mapstructure:"system_prompt"`
	MaxRetries   int    `mapstructure:"max_retries"`
}

// RunnerConfig holds the code execution configuration
type RunnerConfig struct {
	PythonBin      string `mapstructure:"python_bin"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxFixRetries  int    `mapstructure:"max_fix_retries"`
	VenvDir        string `mapstructure:"venv_dir"`
	AutoInstall    bool   `mapstructure:"auto_install"`
}

// HistoryConfig holds the message audit log configuration
type HistoryConfig struct {
	DBPath  string `mapstructure:"db_path"`
	Enabled bool   `mapstructure:"enabled"`
}

// LogConfig holds the logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load loads the configuration from config.yaml in the working directory, or
// from the file named by the CODEBOT_CONFIG env var. A missing file is not an
// error; defaults apply. The API key can always be supplied via
// CODEBOT_API_KEY or OPENAI_API_KEY regardless of the file contents.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("llm.model", "gpt-4o")
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("runner.python_bin", "python3")
	v.SetDefault("runner.timeout_seconds", 60)
	v.SetDefault("runner.max_fix_retries", 3)
	v.SetDefault("runner.venv_dir", ".code_exec_venv")
	v.SetDefault("history.enabled", true)
	v.SetDefault("log.level", "info")

	if err := v.BindEnv("llm.api_key", "CODEBOT_API_KEY", "OPENAI_API_KEY"); err != nil {
		return nil, err
	}

	if path := os.Getenv("CODEBOT_CONFIG"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
