package config

import (
	"fmt"

	"zkusd/crypto"
	"zkusd/native/oracle"
)

func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil config")
	}
	if cfg.Genesis.Admin != "" {
		if _, err := crypto.DecodeAddress(cfg.Genesis.Admin); err != nil {
			return fmt.Errorf("genesis: invalid Admin address: %w", err)
		}
	}
	if cfg.Genesis.FallbackPrice == 0 {
		return fmt.Errorf("genesis: FallbackPrice must be positive")
	}
	if len(cfg.Genesis.Whitelist) > oracle.MaxWhitelistSize {
		return fmt.Errorf("genesis: whitelist exceeds %d entries", oracle.MaxWhitelistSize)
	}
	for _, entry := range cfg.Genesis.Whitelist {
		if _, err := crypto.DecodeAddress(entry); err != nil {
			return fmt.Errorf("genesis: invalid whitelist entry %q: %w", entry, err)
		}
	}
	if cfg.Blocks.IntervalSeconds == 0 {
		return fmt.Errorf("blocks: IntervalSeconds must be positive")
	}
	if cfg.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("ratelimit: RequestsPerSecond must be positive")
	}
	if cfg.RateLimit.Burst <= 0 {
		return fmt.Errorf("ratelimit: Burst must be positive")
	}
	return nil
}
