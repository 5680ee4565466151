// Package avsconfig persists the device's OAuth credentials to a small
// JSON file, the same role original_source/helper.py's write_dict /
// read_dict played for the original device's creds file.
package avsconfig

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// DefaultPollInterval is how often WaitForRefreshToken re-reads the
// config file while waiting for the out-of-band authorization flow to
// rewrite it.
const DefaultPollInterval = 2 * time.Second

// Config is the on-disk device configuration: the LWA client
// credentials and product identity needed to refresh an access token,
// plus the refresh token obtained from the one-time OAuth code grant.
type Config struct {
	ClientID     string `json:"Client_ID"`
	ClientSecret string `json:"Client_Secret"`
	ProductID    string `json:"ProductID"`
	RefreshToken string `json:"refresh_token"`
}

// Load reads and parses a Config from path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path as JSON, creating or truncating the file.
func Save(path string, cfg Config) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// UpdateRefreshToken rewrites only the refresh_token field of the config
// at path, matching the original device's pattern of persisting a
// rotated refresh token back to disk after every use.
func UpdateRefreshToken(path, refreshToken string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	cfg.RefreshToken = refreshToken
	return Save(path, cfg)
}

// WaitForRefreshToken loads the config at path and, if it already
// carries a refresh_token, returns it immediately. Otherwise it calls
// onWaiting once (the caller's cue to print instructions for running
// the out-of-band authorization bootstrap, original_source/
// authorization.py's one-shot OAuth web flow) and then polls the file
// every interval until a rewrite supplies a non-empty refresh_token, or
// ctx is canceled. interval <= 0 selects DefaultPollInterval.
func WaitForRefreshToken(ctx context.Context, path string, interval time.Duration, onWaiting func(path string)) (Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return Config{}, err
	}
	if cfg.RefreshToken != "" {
		return cfg, nil
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if onWaiting != nil {
		onWaiting(path)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return Config{}, ctx.Err()
		case <-ticker.C:
			cfg, err := Load(path)
			if err != nil {
				continue
			}
			if cfg.RefreshToken != "" {
				return cfg, nil
			}
		}
	}
}
