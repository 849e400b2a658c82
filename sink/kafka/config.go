package kafka

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix overrides sink YAML keys, e.g. SCRIPTFILTER_KAFKA_SINK__TOPIC.
const EnvPrefix = "SCRIPTFILTER_KAFKA_SINK__"

type Config struct {
	Brokers  []string `koanf:"brokers"`
	Topic    string   `koanf:"topic"`
	Acks     int16    `koanf:"required_acks"` // 0,1,-1 (default 1)
	Version  string   `koanf:"version"`
	ClientID string   `koanf:"client_id"`
}

// LoadConfig merges YAML (if present) with env-vars.
func LoadConfig(path string) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, "__", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, err
	}
	if !k.Exists("required_acks") {
		cfg.Acks = 1
	}
	if cfg.Version == "" {
		cfg.Version = "2.1.0"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "scriptfilter"
	}
	switch {
	case len(cfg.Brokers) == 0:
		return cfg, errors.New("kafka sink: no brokers configured")
	case cfg.Topic == "":
		return cfg, errors.New("kafka sink: no topic configured")
	case cfg.Acks < -1 || cfg.Acks > 1:
		return cfg, fmt.Errorf("kafka sink: required_acks %d not in {-1,0,1}", cfg.Acks)
	}
	return cfg, nil
}
