package config

import (
	"os"
	"path/filepath"

	"zkusd/crypto"

	"github.com/BurntSushi/toml"
)

type Config struct {
	RPCAddress         string `toml:"RPCAddress"`
	DataDir            string `toml:"DataDir"`
	EngineKeystorePath string `toml:"EngineKeystorePath"`
	LogFile            string `toml:"LogFile"`

	Genesis   Genesis   `toml:"genesis"`
	Blocks    Blocks    `toml:"blocks"`
	RateLimit RateLimit `toml:"ratelimit"`
}

// Genesis seeds the protocol record and oracle on first boot. It is ignored
// once the database holds an initialised protocol record.
type Genesis struct {
	Admin         string   `toml:"Admin"`
	FallbackPrice uint64   `toml:"FallbackPrice"`
	OracleFlatFee uint64   `toml:"OracleFlatFee"`
	Whitelist     []string `toml:"Whitelist"`
}

// Blocks maps wall-clock time onto the protocol's logical block heights.
type Blocks struct {
	IntervalSeconds uint64 `toml:"IntervalSeconds"`
}

// RateLimit throttles the RPC surface per client.
type RateLimit struct {
	RequestsPerSecond float64 `toml:"RequestsPerSecond"`
	Burst             int     `toml:"Burst"`
}

// Load loads the configuration from the given path, creating a default file
// (and an engine keystore) when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if err := ensureKeystore(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.RPCAddress == "" {
		cfg.RPCAddress = ":8080"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./zkusd-data"
	}
	if cfg.Blocks.IntervalSeconds == 0 {
		cfg.Blocks.IntervalSeconds = 5
	}
	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = 20
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 40
	}
	if cfg.Genesis.Whitelist == nil {
		cfg.Genesis.Whitelist = []string{}
	}
}

func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.EngineKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.EngineKeystorePath != keystorePath {
		cfg.EngineKeystorePath = keystorePath
		return persist(configPath, cfg)
	}

	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
		return nil, err
	}

	cfg := &Config{
		RPCAddress:         ":8080",
		DataDir:            "./zkusd-data",
		EngineKeystorePath: keystorePath,
		Genesis: Genesis{
			// The key generated alongside the default config doubles as the
			// genesis admin so a fresh node is usable out of the box.
			Admin:         key.PubKey().Address().String(),
			FallbackPrice: 1_000_000_000,
			OracleFlatFee: 0,
			Whitelist:     []string{},
		},
		Blocks:    Blocks{IntervalSeconds: 5},
		RateLimit: RateLimit{RequestsPerSecond: 20, Burst: 40},
	}

	if err := persist(path, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "engine.keystore")
}
