// Package config loads service settings from an optional config file and
// the environment. Environment variables win over the file, flags win
// over both.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config carries the settings shared by the relay binaries. Each binary
// reads only the fields it needs.
type Config struct {
	// Router listen ports.
	BrowserPort int `mapstructure:"browser_port"`
	UplinkPort  int `mapstructure:"uplink_port"`

	// TLS material for the router; both must be set to enable wss.
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`

	// Telnet bridge settings.
	BridgePort  int    `mapstructure:"bridge_port"`
	BridgeWSURL string `mapstructure:"bridge_ws_url"`

	// Pool manager launch script.
	LaunchScript string `mapstructure:"launch_script"`
}

// Load reads config.yaml from the working directory when present, then
// applies environment overrides (BROWSER_PORT, UPLINK_PORT, BRIDGE_PORT,
// BRIDGE_WS_URL, LAUNCH_SCRIPT, CERT_FILE, KEY_FILE).
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	setDefaults(v)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// No config file; defaults and environment apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("browser_port", 8080)
	v.SetDefault("uplink_port", 8081)
	v.SetDefault("cert_file", "")
	v.SetDefault("key_file", "")
	v.SetDefault("bridge_port", 10018)
	v.SetDefault("bridge_ws_url", "ws://localhost:8080")
	v.SetDefault("launch_script", "./do.sh")
}
