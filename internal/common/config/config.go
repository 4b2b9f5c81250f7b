// Package config provides configuration management for idecore, following
// the teacher's Load/LoadWithPath/setDefaults/validate shape
// (SPEC_FULL.md §10.2).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the integration core.
type Config struct {
	Acp     AcpConfig     `mapstructure:"acp"`
	Bridge  BridgeConfig  `mapstructure:"bridge"`
	Mcp     McpConfig     `mapstructure:"mcp"`
	Events  EventsConfig  `mapstructure:"events"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// AcpConfig configures the C2 ACP client runtime.
type AcpConfig struct {
	Command            string   `mapstructure:"command"`
	Args               []string `mapstructure:"args"`
	WorkspaceRoot       string   `mapstructure:"workspaceRoot"`
	ProtocolVersion    int      `mapstructure:"protocolVersion"`
	InitTimeoutSeconds int      `mapstructure:"initTimeoutSeconds"`
}

func (a *AcpConfig) InitTimeout() time.Duration {
	return time.Duration(a.InitTimeoutSeconds) * time.Second
}

// BridgeConfig configures the C3 UE bridge runtime.
type BridgeConfig struct {
	PortRangeStart          int `mapstructure:"portRangeStart"`
	PortRangeEnd            int `mapstructure:"portRangeEnd"`
	HandshakeTimeoutSeconds int `mapstructure:"handshakeTimeoutSeconds"`
	ProtocolVersion         int `mapstructure:"protocolVersion"`
	OutboundQueueSize       int `mapstructure:"outboundQueueSize"`
}

// McpConfig configures the C4 MCP server.
type McpConfig struct {
	PortRangeStart        int `mapstructure:"portRangeStart"`
	PortRangeEnd          int `mapstructure:"portRangeEnd"`
	ToolCallTimeoutSeconds int `mapstructure:"toolCallTimeoutSeconds"`
}

// EventsConfig configures the optional NATS mirror (SPEC_FULL.md §12.3).
type EventsConfig struct {
	Namespace string `mapstructure:"namespace"`
	NatsURL   string `mapstructure:"natsUrl"`
}

// LoggingConfig holds logging configuration, reused verbatim from the
// teacher (SPEC_FULL.md §10.1).
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// detectDefaultLogFormat returns "json" under Kubernetes/production, "text"
// otherwise -- this core is normally spawned as a child process of the IDE,
// so readable console output is the common case.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("IDECORE_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("acp.command", "")
	v.SetDefault("acp.args", []string{})
	v.SetDefault("acp.workspaceRoot", ".")
	v.SetDefault("acp.protocolVersion", 1)
	v.SetDefault("acp.initTimeoutSeconds", 10)

	v.SetDefault("bridge.portRangeStart", 27020)
	v.SetDefault("bridge.portRangeEnd", 27029)
	v.SetDefault("bridge.handshakeTimeoutSeconds", 5)
	v.SetDefault("bridge.protocolVersion", 2)
	v.SetDefault("bridge.outboundQueueSize", 32)

	v.SetDefault("mcp.portRangeStart", 27030)
	v.SetDefault("mcp.portRangeEnd", 27039)
	v.SetDefault("mcp.toolCallTimeoutSeconds", 60)

	// Empty namespace/URL means the optional NATS mirror stays disabled.
	v.SetDefault("events.namespace", "")
	v.SetDefault("events.natsUrl", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stderr")
}

// Load reads configuration from environment variables, config file, and
// defaults. Environment variables use the prefix IDECORE_.
func Load() (*Config, error) {
	return LoadWithPath("")
}

func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("IDECORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("acp.command", "IDECORE_ACP_COMMAND")
	_ = v.BindEnv("acp.workspaceRoot", "IDECORE_ACP_WORKSPACE_ROOT")
	_ = v.BindEnv("logging.level", "IDECORE_LOG_LEVEL")
	_ = v.BindEnv("events.namespace", "IDECORE_EVENTS_NAMESPACE")
	_ = v.BindEnv("events.natsUrl", "IDECORE_EVENTS_NATS_URL")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/idecore/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	var errs []string

	if cfg.Acp.Command == "" {
		errs = append(errs, "acp.command is required")
	}
	if cfg.Bridge.PortRangeStart <= 0 || cfg.Bridge.PortRangeEnd > 65535 || cfg.Bridge.PortRangeStart > cfg.Bridge.PortRangeEnd {
		errs = append(errs, "bridge.portRangeStart/portRangeEnd must describe a valid range")
	}
	if cfg.Mcp.PortRangeStart <= 0 || cfg.Mcp.PortRangeEnd > 65535 || cfg.Mcp.PortRangeStart > cfg.Mcp.PortRangeEnd {
		errs = append(errs, "mcp.portRangeStart/portRangeEnd must describe a valid range")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
