package config

import (
	ksink "scriptfilter/sink/kafka"
	ksrc "scriptfilter/source/kafka"
)

// LoadKafkaConfig delegates to the Kafka source loader while centralizing
// loader entrypoints under internal/config.
func LoadKafkaConfig(path string) (ksrc.Config, error) {
	return ksrc.LoadConfig(path)
}

func LoadKafkaSinkConfig(path string) (ksink.Config, error) {
	return ksink.LoadConfig(path)
}
