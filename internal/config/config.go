package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

const maxPacketSize = 65507

type NetworkConfig struct {
	Hosts                []string `mapstructure:"hosts"`
	Retries              int      `mapstructure:"retries"`
	TimeoutSeconds       int      `mapstructure:"timeout_seconds"`
	PacketSize           int      `mapstructure:"packet_size"`
	CheckIntervalOnline  int      `mapstructure:"check_interval_online_seconds"`
	CheckIntervalOffline int      `mapstructure:"check_interval_offline_seconds"`
}

type GPIOConfig struct {
	RelayPin  int  `mapstructure:"relay_pin"`
	ActiveLow bool `mapstructure:"active_low"`
}

type HTTPConfig struct {
	Port         int    `mapstructure:"port"`
	AuthUsername string `mapstructure:"auth_username"`
	AuthPassword string `mapstructure:"auth_password"`
	TLSEnabled   bool   `mapstructure:"tls_enabled"`
	TLSCert      string `mapstructure:"tls_cert"`
	TLSKey       string `mapstructure:"tls_key"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
	File   string `mapstructure:"file"`   // empty disables file output
}

type TelemetryConfig struct {
	BackendURL          string   `mapstructure:"backend_url"`
	AuthTokenEnv        string   `mapstructure:"auth_token_env"`
	SendIntervalSeconds int      `mapstructure:"send_interval_seconds"`
	TimeoutSeconds      int      `mapstructure:"timeout_seconds"`
	MaxQueueSize        int      `mapstructure:"max_queue_size"`
	KafkaBrokers        []string `mapstructure:"kafka_brokers"`
	KafkaTopic          string   `mapstructure:"kafka_topic"`
}

type Config struct {
	Network   NetworkConfig   `mapstructure:"network"`
	GPIO      GPIOConfig      `mapstructure:"gpio"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// env overrides: REBOOTER_NETWORK_RETRIES etc.
	v.SetEnvPrefix("REBOOTER")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("network.hosts", []string{"8.8.8.8"})
	v.SetDefault("network.retries", 5)
	v.SetDefault("network.timeout_seconds", 2)
	v.SetDefault("network.packet_size", 0)
	v.SetDefault("network.check_interval_online_seconds", 10)
	v.SetDefault("network.check_interval_offline_seconds", 30)
	v.SetDefault("gpio.relay_pin", 17)
	v.SetDefault("gpio.active_low", false)
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.tls_cert", "cert.pem")
	v.SetDefault("http.tls_key", "key.pem")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("telemetry.send_interval_seconds", 30)
	v.SetDefault("telemetry.timeout_seconds", 5)
	v.SetDefault("telemetry.max_queue_size", 1000)
}

// Validate rejects configurations the daemon cannot run with. It runs before
// GPIO setup so a bad file never touches hardware.
func (c *Config) Validate() error {
	if len(c.Network.Hosts) == 0 {
		return fmt.Errorf("network.hosts must list at least one host")
	}
	for _, h := range c.Network.Hosts {
		if h == "" {
			return fmt.Errorf("network.hosts contains an empty host")
		}
	}
	if c.Network.Retries < 1 {
		return fmt.Errorf("network.retries must be >= 1, got %d", c.Network.Retries)
	}
	if c.Network.TimeoutSeconds < 1 {
		return fmt.Errorf("network.timeout_seconds must be >= 1, got %d", c.Network.TimeoutSeconds)
	}
	if c.Network.PacketSize < 0 || c.Network.PacketSize > maxPacketSize {
		return fmt.Errorf("network.packet_size must be in 0..%d, got %d", maxPacketSize, c.Network.PacketSize)
	}
	if c.Network.CheckIntervalOnline < 1 || c.Network.CheckIntervalOffline < 1 {
		return fmt.Errorf("check intervals must be >= 1 second")
	}
	if c.GPIO.RelayPin < 0 {
		return fmt.Errorf("gpio.relay_pin must be a valid pin number, got %d", c.GPIO.RelayPin)
	}
	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be in 1..65535, got %d", c.HTTP.Port)
	}
	if c.HTTP.TLSEnabled && (c.HTTP.TLSCert == "" || c.HTTP.TLSKey == "") {
		return fmt.Errorf("http.tls_cert and http.tls_key are required when TLS is enabled")
	}
	if (c.HTTP.AuthUsername == "") != (c.HTTP.AuthPassword == "") {
		return fmt.Errorf("http.auth_username and http.auth_password must be set together")
	}
	return nil
}

func (n NetworkConfig) Timeout() time.Duration {
	return time.Duration(n.TimeoutSeconds) * time.Second
}

func (n NetworkConfig) OnlineInterval() time.Duration {
	return time.Duration(n.CheckIntervalOnline) * time.Second
}

func (n NetworkConfig) OfflineInterval() time.Duration {
	return time.Duration(n.CheckIntervalOffline) * time.Second
}

const defaultConfig = `# router-rebooter configuration

network:
  # Hosts pinged to verify internet reachability. One is picked at random
  # per attempt.
  hosts:
    - 8.8.8.8
    - 1.1.1.1
  retries: 5
  timeout_seconds: 2
  packet_size: 0
  check_interval_online_seconds: 10
  check_interval_offline_seconds: 30

gpio:
  # BCM pin number driving the relay.
  relay_pin: 17
  # Set true for relay boards that energize on a low signal.
  active_low: false

http:
  port: 8080
  # Leave empty to disable basic auth.
  auth_username: ""
  auth_password: ""
  tls_enabled: false
  tls_cert: cert.pem
  tls_key: key.pem

logging:
  level: info
  format: console
  # Leave empty to log to stderr only.
  file: router-rebooter.log

telemetry:
  # Leave backend_url empty and kafka_brokers unset to disable forwarding.
  backend_url: ""
  auth_token_env: REBOOTER_BACKEND_TOKEN
  send_interval_seconds: 30
  kafka_brokers: []
  kafka_topic: rebooter.events
`

// WriteDefault creates a commented starter config at path. It refuses to
// overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}
	if err := os.WriteFile(path, []byte(defaultConfig), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
