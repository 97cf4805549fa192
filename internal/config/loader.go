package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Service holds typed process-level configuration.
type Service struct {
	LogLevel          string
	KafkaBrokers      string
	RedisAddr         string
	PostgresDSN       string
	MetricsAddr       string
	OTelEndpoint      string
	SampleInterval    time.Duration
	ReloadInterval    time.Duration
	HealthInterval    time.Duration
	FallbackMemoryMB  int
	FallbackMaxActive int
}

// LoadService reads all process-level values from the given viper instance.
func LoadService(v *viper.Viper) Service {
	return Service{
		LogLevel:          v.GetString("log_level"),
		KafkaBrokers:      v.GetString("kafka_brokers"),
		RedisAddr:         v.GetString("redis_addr"),
		PostgresDSN:       v.GetString("postgres_dsn"),
		MetricsAddr:       v.GetString("metrics_addr"),
		OTelEndpoint:      v.GetString("otel_endpoint"),
		SampleInterval:    v.GetDuration("sample_interval"),
		ReloadInterval:    v.GetDuration("reload_interval"),
		HealthInterval:    v.GetDuration("health_check_interval"),
		FallbackMemoryMB:  v.GetInt("fallback_memory_mb"),
		FallbackMaxActive: v.GetInt("fallback_max_active"),
	}
}

// LoadQueueTypes reads per-queue-type configs from the "queues" section of
// the given viper instance. Each entry starts from Default and is
// overridden by whatever keys the file sets. Every result is validated.
func LoadQueueTypes(v *viper.Viper) ([]*QueueTypeConfig, error) {
	sub := v.Sub("queues")
	if sub == nil {
		return nil, nil
	}

	var out []*QueueTypeConfig
	for queueType := range v.GetStringMap("queues") {
		cfg := Default(queueType)
		qv := sub.Sub(queueType)
		if qv == nil {
			out = append(out, cfg)
			continue
		}
		if err := qv.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("unmarshal queue config %q: %w", queueType, err)
		}
		cfg.QueueType = queueType
		if err := Validate(cfg); err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, nil
}
