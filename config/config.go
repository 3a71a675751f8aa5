// Package config loads ClientConfig: the env/file-driven settings shared by
// every consumer, producer, and the command-line examples.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ClientConfig holds every setting a ClientFactory, PushConsumer, or
// Producer needs, loaded once at process startup.
type ClientConfig struct {
	NameServer NameServerConfig `mapstructure:"name_server"`
	Client     ClientIdentity   `mapstructure:"client"`
	Consumer   ConsumerConfig   `mapstructure:"consumer"`
	Producer   ProducerConfig   `mapstructure:"producer"`
	Log        LogConfig        `mapstructure:"log"`
}

// NameServerConfig configures how this client discovers brokers.
type NameServerConfig struct {
	// Addrs is a static, semicolon-or-comma separated name-server address
	// list. Takes precedence over DomainURL when both are set.
	Addrs string `mapstructure:"addrs"`
	// DomainURL is polled over HTTP for the address list when Addrs is
	// empty.
	DomainURL string `mapstructure:"domain_url"`
	// DomainTTL is loaded but not passed on: remote.DomainResolver caches a
	// resolved address list for a fixed 30s.
	DomainTTL time.Duration `mapstructure:"domain_ttl"`
}

// ClientIdentity names this process to the broker world.
type ClientIdentity struct {
	InstanceName string `mapstructure:"instance_name"`
}

// ConsumerConfig tunes PushConsumer/PullConsumer defaults.
type ConsumerConfig struct {
	Group                string        `mapstructure:"group"`
	Model                string        `mapstructure:"model"` // "clustering" | "broadcasting"
	PullBatchSize        int32         `mapstructure:"pull_batch_size"`
	PullInterval         time.Duration `mapstructure:"pull_interval"`
	ConsumeConcurrency   int           `mapstructure:"consume_concurrency"`
	ConsumeMaxSpan       int           `mapstructure:"consume_max_span"`
	UseRemoteOffsetStore bool          `mapstructure:"use_remote_offset_store"`
}

// ProducerConfig tunes Producer defaults.
type ProducerConfig struct {
	Group          string        `mapstructure:"group"`
	RetryTimes     int           `mapstructure:"retry_times"`
	SendMsgTimeout time.Duration `mapstructure:"send_msg_timeout"`
}

// LogConfig tunes rlog's default zerolog-backed logger.
type LogConfig struct {
	Level string `mapstructure:"level"` // "debug" | "info" | "warn" | "error"
	JSON  bool   `mapstructure:"json"`
}

// Load reads ClientConfig from environment variables prefixed ROCKETMQ_
// (e.g. ROCKETMQ_NAME_SERVER_ADDRS) and, if configPath is non-empty, from
// that YAML file, with the file taking precedence over built-in defaults
// and the environment taking precedence over the file.
func Load(configPath string) (*ClientConfig, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ROCKETMQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// keys without a default are unknown to Unmarshal unless bound.
	for _, key := range []string{"name_server.addrs", "name_server.domain_url", "client.instance_name", "consumer.group", "consumer.use_remote_offset_store", "producer.group"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configPath, err)
		}
	}

	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("name_server.domain_ttl", 30*time.Second)
	v.SetDefault("consumer.model", "clustering")
	v.SetDefault("consumer.pull_batch_size", 32)
	v.SetDefault("consumer.pull_interval", 0)
	v.SetDefault("consumer.consume_concurrency", 20)
	v.SetDefault("consumer.consume_max_span", 2000)
	v.SetDefault("producer.retry_times", 2)
	v.SetDefault("producer.send_msg_timeout", 3*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
}

// Validate reports the first configuration problem found, if any.
func (c *ClientConfig) Validate() error {
	if c.NameServer.Addrs == "" && c.NameServer.DomainURL == "" {
		return fmt.Errorf("config: one of name_server.addrs or name_server.domain_url is required")
	}
	if c.Consumer.Group == "" && c.Producer.Group == "" {
		return fmt.Errorf("config: at least one of consumer.group or producer.group is required")
	}
	return nil
}
