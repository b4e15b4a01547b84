package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/caarlos0/env/v11"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so group_list can contain both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	// Try []string first
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	// Try []interface{} to handle mixed types
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Resolver ResolverConfig `json:"resolver"`
	Channels ChannelsConfig `json:"channels"`
	mu       sync.RWMutex
}

// ResolverConfig gates the link-resolution pipeline. GroupList is a
// whitelist when GroupWhitelistMode is true, otherwise a blacklist; an
// empty list allows every group either way.
type ResolverConfig struct {
	EnableAutoParse    bool                `json:"enable_auto_parse" env:"BILIBOT_RESOLVER_ENABLE_AUTO_PARSE"`
	EnableSearch       bool                `json:"enable_search" env:"BILIBOT_RESOLVER_ENABLE_SEARCH"`
	EnableImage        bool                `json:"enable_image" env:"BILIBOT_RESOLVER_ENABLE_IMAGE"`
	GroupWhitelistMode bool                `json:"group_whitelist_mode" env:"BILIBOT_RESOLVER_GROUP_WHITELIST_MODE"`
	GroupList          FlexibleStringSlice `json:"group_list" env:"BILIBOT_RESOLVER_GROUP_LIST"`
	TimeoutSeconds     int                 `json:"timeout_seconds" env:"BILIBOT_RESOLVER_TIMEOUT_SECONDS"`
	DescLimit          int                 `json:"desc_limit" env:"BILIBOT_RESOLVER_DESC_LIMIT"`
}

type ChannelsConfig struct {
	OneBot   OneBotConfig   `json:"onebot"`
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
}

type OneBotConfig struct {
	Enabled           bool                `json:"enabled" env:"BILIBOT_CHANNELS_ONEBOT_ENABLED"`
	Debug             bool                `json:"debug" env:"BILIBOT_CHANNELS_ONEBOT_DEBUG"`
	WSUrl             string              `json:"ws_url" env:"BILIBOT_CHANNELS_ONEBOT_WS_URL"`
	AccessToken       string              `json:"access_token" env:"BILIBOT_CHANNELS_ONEBOT_ACCESS_TOKEN"`
	ReconnectInterval int                 `json:"reconnect_interval" env:"BILIBOT_CHANNELS_ONEBOT_RECONNECT_INTERVAL"`
	AllowFrom         FlexibleStringSlice `json:"allow_from" env:"BILIBOT_CHANNELS_ONEBOT_ALLOW_FROM"`
}

type TelegramConfig struct {
	Enabled   bool                `json:"enabled" env:"BILIBOT_CHANNELS_TELEGRAM_ENABLED"`
	Token     string              `json:"token" env:"BILIBOT_CHANNELS_TELEGRAM_TOKEN"`
	AllowFrom FlexibleStringSlice `json:"allow_from" env:"BILIBOT_CHANNELS_TELEGRAM_ALLOW_FROM"`
}

type DiscordConfig struct {
	Enabled   bool                `json:"enabled" env:"BILIBOT_CHANNELS_DISCORD_ENABLED"`
	Token     string              `json:"token" env:"BILIBOT_CHANNELS_DISCORD_TOKEN"`
	AllowFrom FlexibleStringSlice `json:"allow_from" env:"BILIBOT_CHANNELS_DISCORD_ALLOW_FROM"`
}

func DefaultConfig() *Config {
	return &Config{
		Resolver: ResolverConfig{
			EnableAutoParse:    true,
			EnableSearch:       true,
			EnableImage:        true,
			GroupWhitelistMode: false,
			GroupList:          FlexibleStringSlice{},
			TimeoutSeconds:     10,
			DescLimit:          80,
		},
		Channels: ChannelsConfig{
			OneBot: OneBotConfig{
				Enabled:           false,
				WSUrl:             "ws://127.0.0.1:3001",
				AccessToken:       "",
				ReconnectInterval: 5,
				AllowFrom:         FlexibleStringSlice{},
			},
			Telegram: TelegramConfig{
				Enabled:   false,
				Token:     "",
				AllowFrom: FlexibleStringSlice{},
			},
			Discord: DiscordConfig{
				Enabled:   false,
				Token:     "",
				AllowFrom: FlexibleStringSlice{},
			},
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}
