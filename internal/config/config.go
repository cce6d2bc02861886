// Package config loads the barista configuration from a YAML file and
// BARISTA_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"barista/internal/device"
	"barista/internal/executor"
	"barista/internal/models"
)

// EnvPrefix prefixes every environment override, e.g. BARISTA_API_PORT
const EnvPrefix = "BARISTA"

// Config represents the application configuration
type Config struct {
	Machine     MachineConfig    `mapstructure:"machine" yaml:"machine"`
	Device      DeviceConfig     `mapstructure:"device" yaml:"device"`
	RecipesFile string           `mapstructure:"recipes_file" yaml:"recipes_file" validate:"required"`
	Stats       StatsConfig      `mapstructure:"stats" yaml:"stats"`
	Notify      NotifyConfig     `mapstructure:"notify" yaml:"notify"`
	API         APIConfig        `mapstructure:"api" yaml:"api"`
	Log         LogConfig        `mapstructure:"log" yaml:"log"`
	Timings     executor.Timings `mapstructure:"timings" yaml:"timings"`
}

// MachineConfig names the signals of the machine
type MachineConfig struct {
	DrinkSelect  string   `mapstructure:"drink_select" yaml:"drink_select" validate:"required"`
	StartSwitch  string   `mapstructure:"start_switch" yaml:"start_switch" validate:"required"`
	DoubleSwitch string   `mapstructure:"double_switch" yaml:"double_switch"`
	WorkState    string   `mapstructure:"work_state" yaml:"work_state"`
	FaultSensors []string `mapstructure:"fault_sensors" yaml:"fault_sensors" validate:"dive,required"`
}

// DeviceConfig selects the device backend
type DeviceConfig struct {
	Backend   string          `mapstructure:"backend" yaml:"backend" validate:"oneof=memory sim mqtt"`
	MQTT      MQTTConfig      `mapstructure:"mqtt" yaml:"mqtt"`
	Simulator SimulatorConfig `mapstructure:"simulator" yaml:"simulator"`
}

// MQTTConfig holds the broker settings of the mqtt backend
type MQTTConfig struct {
	Broker   string `mapstructure:"broker" yaml:"broker" validate:"required_if=Enabled true"`
	ClientID string `mapstructure:"client_id" yaml:"client_id"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	Prefix   string `mapstructure:"prefix" yaml:"prefix"`
	QoS      int    `mapstructure:"qos" yaml:"qos" validate:"min=0,max=2"`
	// Enabled is set when the mqtt backend is selected
	Enabled bool `mapstructure:"-" yaml:"-"`
}

// SimulatorConfig tunes the simulated machine
type SimulatorConfig struct {
	BrewTime    time.Duration `mapstructure:"brew_time" yaml:"brew_time"`
	AuxTime     time.Duration `mapstructure:"aux_time" yaml:"aux_time"`
	AuxSwitches []string      `mapstructure:"aux_switches" yaml:"aux_switches"`
}

// StatsConfig selects where statistics and history are kept
type StatsConfig struct {
	Backend string      `mapstructure:"backend" yaml:"backend" validate:"oneof=sqlite postgres redis none"`
	DSN     string      `mapstructure:"dsn" yaml:"dsn"`
	Redis   RedisConfig `mapstructure:"redis" yaml:"redis"`
}

// RedisConfig holds the redis settings of the redis stats backend
type RedisConfig struct {
	Addr        string `mapstructure:"addr" yaml:"addr"`
	Password    string `mapstructure:"password" yaml:"password"`
	DB          int    `mapstructure:"db" yaml:"db" validate:"min=0"`
	Key         string `mapstructure:"key" yaml:"key"`
	HistoryKey  string `mapstructure:"history_key" yaml:"history_key"`
	HistorySize int    `mapstructure:"history_size" yaml:"history_size" validate:"min=0"`
}

// NotifyConfig selects notification sinks
type NotifyConfig struct {
	Title string `mapstructure:"title" yaml:"title"`
	// MQTTTopic publishes notifications through the mqtt device when set
	MQTTTopic string `mapstructure:"mqtt_topic" yaml:"mqtt_topic"`
}

// APIConfig holds the HTTP listeners
type APIConfig struct {
	Port        int    `mapstructure:"port" yaml:"port" validate:"min=1,max=65535"`
	MetricsPort int    `mapstructure:"metrics_port" yaml:"metrics_port" validate:"min=0,max=65535"`
	JWTSecret   string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
}

// LogConfig controls the zap logger
type LogConfig struct {
	Level       string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Development bool   `mapstructure:"development" yaml:"development"`
}

var validate = validator.New()

// SetDefaults registers the default of every key on v
func SetDefaults(v *viper.Viper) {
	def := models.DefaultMachine()
	v.SetDefault("machine.drink_select", def.DrinkSelect)
	v.SetDefault("machine.start_switch", def.StartSwitch)
	v.SetDefault("machine.double_switch", def.DoubleSwitch)
	v.SetDefault("machine.work_state", def.WorkState)
	v.SetDefault("machine.fault_sensors", def.FaultSensors)

	v.SetDefault("device.backend", "sim")
	v.SetDefault("device.mqtt.broker", "")
	v.SetDefault("device.mqtt.client_id", "barista")
	v.SetDefault("device.mqtt.username", "")
	v.SetDefault("device.mqtt.password", "")
	v.SetDefault("device.mqtt.prefix", "barista")
	v.SetDefault("device.mqtt.qos", 1)
	v.SetDefault("device.simulator.brew_time", 20*time.Second)
	v.SetDefault("device.simulator.aux_time", 10*time.Second)
	v.SetDefault("device.simulator.aux_switches", []string{"switch.coffee_machine_rinse"})

	v.SetDefault("recipes_file", "coffee_recipes.yaml")

	v.SetDefault("stats.backend", "sqlite")
	v.SetDefault("stats.dsn", "barista.db")
	v.SetDefault("stats.redis.addr", "localhost:6379")
	v.SetDefault("stats.redis.password", "")
	v.SetDefault("stats.redis.db", 0)
	v.SetDefault("stats.redis.key", "barista:stats")
	v.SetDefault("stats.redis.history_key", "barista:executions")
	v.SetDefault("stats.redis.history_size", 500)

	v.SetDefault("notify.title", executor.DefaultNotifyTitle)
	v.SetDefault("notify.mqtt_topic", "")

	v.SetDefault("api.port", 8080)
	v.SetDefault("api.metrics_port", 9090)
	v.SetDefault("api.jwt_secret", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	timings := executor.DefaultTimings()
	v.SetDefault("timings.settle_window", timings.SettleWindow)
	v.SetDefault("timings.inter_run_pause", timings.InterRunPause)
	v.SetDefault("timings.drink_settle", timings.DrinkSettle)
	v.SetDefault("timings.fault_debounce", timings.FaultDebounce)
	v.SetDefault("timings.abort_grace", timings.AbortGrace)
}

// Load reads the configuration. An empty path uses defaults and the
// environment only; a named file must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to unmarshal the config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for missing or out of range values
func (c *Config) Validate() error {
	c.Device.MQTT.Enabled = c.Device.Backend == "mqtt"
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s (%s)", strings.TrimPrefix(fe.Namespace(), "Config."), fe.Tag()))
		}
		return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, ", "))
	}
	if (c.Stats.Backend == "sqlite" || c.Stats.Backend == "postgres") && c.Stats.DSN == "" {
		return fmt.Errorf("invalid configuration: stats.dsn is required for the %s backend", c.Stats.Backend)
	}
	if c.Notify.MQTTTopic != "" && c.Device.Backend != "mqtt" {
		return errors.New("invalid configuration: notify.mqtt_topic requires device.backend mqtt")
	}
	return nil
}

// ExecutorConfig returns the executor settings
func (c *Config) ExecutorConfig() executor.Config {
	return executor.Config{
		Machine: models.Machine{
			DrinkSelect:  c.Machine.DrinkSelect,
			StartSwitch:  c.Machine.StartSwitch,
			DoubleSwitch: c.Machine.DoubleSwitch,
			WorkState:    c.Machine.WorkState,
			FaultSensors: append([]string(nil), c.Machine.FaultSensors...),
		},
		Timings:     c.Timings,
		NotifyTitle: c.Notify.Title,
	}
}

// MQTTDeviceConfig returns the settings of the mqtt device backend
func (c *Config) MQTTDeviceConfig() device.MQTTConfig {
	return device.MQTTConfig{
		Broker:   c.Device.MQTT.Broker,
		ClientID: c.Device.MQTT.ClientID,
		Username: c.Device.MQTT.Username,
		Password: c.Device.MQTT.Password,
		Prefix:   c.Device.MQTT.Prefix,
		QoS:      byte(c.Device.MQTT.QoS),
	}
}

// SimulatorDeviceConfig returns the settings of the simulated machine
func (c *Config) SimulatorDeviceConfig() device.SimulatorConfig {
	return device.SimulatorConfig{
		DrinkSelect:  c.Machine.DrinkSelect,
		StartSwitch:  c.Machine.StartSwitch,
		DoubleSwitch: c.Machine.DoubleSwitch,
		FaultSensors: append([]string(nil), c.Machine.FaultSensors...),
		AuxSwitches:  append([]string(nil), c.Device.Simulator.AuxSwitches...),
		Options:      append([]string(nil), models.DrinkOptions...),
		BrewTime:     c.Device.Simulator.BrewTime,
		AuxTime:      c.Device.Simulator.AuxTime,
	}
}
