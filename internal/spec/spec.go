package spec

type stdoutSink struct {
	Pretty bool `yaml:"pretty"`
}

type sinkConfigs struct {
	// Kafka is a path to a koanf sink config, resolved like Source.Config.
	Kafka  string     `yaml:"kafka"`
	Stdout stdoutSink `yaml:"stdout"`
}

type debugSection struct {
	PrintCounter bool `yaml:"print_counter"`
	// LogBatches logs every batch size at debug level.
	LogBatches bool `yaml:"log_batches"`
}

type batchSection struct {
	MaxReadings int `yaml:"max_readings"`
	FlushMS     int `yaml:"flush_ms"`
}

// FilterSpec declares one script filter. The configuration category comes
// either from a JSON category file or from inline settings (item -> value).
type FilterSpec struct {
	Name     string            `yaml:"name"`
	Category string            `yaml:"category"`
	Settings map[string]string `yaml:"settings"`
}

type File struct {
	SchemaVersion string `yaml:"schema_version"`

	Source struct {
		Kind   string `yaml:"kind"`   // "kafka", "file"
		Driver string `yaml:"driver"` // "sarama", "lines"
		Config string `yaml:"config"`
	} `yaml:"source"`

	// Ordered script filters applied between source and sinks.
	Filters []FilterSpec `yaml:"filters"`

	Sinks       []string     `yaml:"sinks"`
	SinkConfigs sinkConfigs  `yaml:"sink_configs"`
	Batch       batchSection `yaml:"batch"`
	Debug       debugSection `yaml:"debug"`
}
