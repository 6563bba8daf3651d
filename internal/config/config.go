// Package config loads the controller configuration from a YAML file, the environment
// (GROWBOX_ prefix) and a dotenv file holding secrets.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"furitingoasis/growbox/internal/models"
	"furitingoasis/growbox/internal/schedule"
	"furitingoasis/growbox/internal/statusserver"
)

var (
	// ErrInvalidWindow is returned for a light window that is empty or wraps past midnight.
	ErrInvalidWindow = errors.New("light off time must be after light on time on the same day")
	// ErrInvalidConfig is returned for out-of-range values.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrMissingCredentials is returned when a broker username is set without a password.
	ErrMissingCredentials = errors.New("mqtt username set without password")
)

// Hardware modes.
const (
	ModeRaspi = "raspi"
	ModeSim   = "sim"
)

// Config is the fully resolved configuration.
type Config struct {
	Location     *time.Location
	LoopInterval time.Duration
	Schedule     schedule.Config
	LogCapacity  int
	LogLevel     string
	HTTP         HTTP
	Hardware     Hardware
	Sim          Sim
	MQTT         MQTT
}

type HTTP struct {
	Addr string
	statusserver.Options
}

type Hardware struct {
	Mode           string
	LightPin       string
	FanPin         string
	PumpPin        string
	RelayInverted  bool
	I2CBus         int
	ADS1115Address int
	SoilChannel    string
	SoilWetRaw     int
	SoilDryRaw     int
	HumidityOffset float64
}

// Sim holds the fixed readings reported in simulation mode; nil means absent.
type Sim struct {
	TemperatureF *float64
	HumidityPct  *float64
	SoilPct      *float64
}

type MQTT struct {
	BrokerURL     string
	ClientID      string
	Username      string
	Password      string
	TopicPrefix   string
	MaxRetries    int
	RetryInterval time.Duration
}

// Enabled reports whether telemetry should be published.
func (m MQTT) Enabled() bool {
	return m.BrokerURL != ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("timezone", "Local")
	v.SetDefault("loop.interval", time.Second)
	v.SetDefault("log.level", "info")

	v.SetDefault("schedule.light_on_time", "07:00")
	v.SetDefault("schedule.light_off_time", "22:00")
	v.SetDefault("schedule.soil_dry_threshold", 35.0)
	v.SetDefault("schedule.humidity_threshold_pct", 60.0)
	v.SetDefault("schedule.fan_interval_seconds", 1800)
	v.SetDefault("schedule.fan_periodic_run_seconds", 20)
	v.SetDefault("schedule.fan_humidity_run_seconds", 10)
	v.SetDefault("schedule.pump_run_seconds", 1)
	v.SetDefault("schedule.log_capacity", 50)

	v.SetDefault("http.addr", ":80")
	v.SetDefault("http.accept_timeout", 5*time.Second)
	v.SetDefault("http.read_timeout", 2*time.Second)

	v.SetDefault("hardware.mode", ModeRaspi)
	v.SetDefault("hardware.light_pin", "22")
	v.SetDefault("hardware.fan_pin", "16")
	v.SetDefault("hardware.pump_pin", "37")
	v.SetDefault("hardware.relay_inverted", true)
	v.SetDefault("hardware.i2c_bus", 1)
	v.SetDefault("hardware.ads1115_address", 0x48)
	v.SetDefault("hardware.soil_channel", "0")
	v.SetDefault("hardware.soil_wet_raw", 10000)
	v.SetDefault("hardware.soil_dry_raw", 22000)
	v.SetDefault("hardware.humidity_offset", 0.0)

	v.SetDefault("mqtt.broker_url", "")
	v.SetDefault("mqtt.client_id", "growbox")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic_prefix", "growbox")
	v.SetDefault("mqtt.max_retries", 3)
	v.SetDefault("mqtt.retry_interval", 2*time.Second)
}

// Load reads path and envFile. Either file may be missing, in which case the defaults and
// the process environment apply.
func Load(path, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("GROWBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	loc, err := time.LoadLocation(v.GetString("timezone"))
	if err != nil {
		return nil, fmt.Errorf("%w: timezone: %v", ErrInvalidConfig, err)
	}

	window, err := parseWindow(v.GetString("schedule.light_on_time"), v.GetString("schedule.light_off_time"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Location:     loc,
		LoopInterval: v.GetDuration("loop.interval"),
		LogCapacity:  v.GetInt("schedule.log_capacity"),
		LogLevel:     v.GetString("log.level"),
		Schedule: schedule.Config{
			Window:               window,
			SoilDryThreshold:     v.GetFloat64("schedule.soil_dry_threshold"),
			HumidityThresholdPct: v.GetFloat64("schedule.humidity_threshold_pct"),
			FanInterval:          seconds(v, "schedule.fan_interval_seconds"),
			FanPeriodicRun:       seconds(v, "schedule.fan_periodic_run_seconds"),
			FanHumidityRun:       seconds(v, "schedule.fan_humidity_run_seconds"),
			PumpRun:              seconds(v, "schedule.pump_run_seconds"),
		},
		HTTP: HTTP{
			Addr: v.GetString("http.addr"),
			Options: statusserver.Options{
				AcceptTimeout: v.GetDuration("http.accept_timeout"),
				ReadTimeout:   v.GetDuration("http.read_timeout"),
			},
		},
		Hardware: Hardware{
			Mode:           v.GetString("hardware.mode"),
			LightPin:       v.GetString("hardware.light_pin"),
			FanPin:         v.GetString("hardware.fan_pin"),
			PumpPin:        v.GetString("hardware.pump_pin"),
			RelayInverted:  v.GetBool("hardware.relay_inverted"),
			I2CBus:         v.GetInt("hardware.i2c_bus"),
			ADS1115Address: v.GetInt("hardware.ads1115_address"),
			SoilChannel:    v.GetString("hardware.soil_channel"),
			SoilWetRaw:     v.GetInt("hardware.soil_wet_raw"),
			SoilDryRaw:     v.GetInt("hardware.soil_dry_raw"),
			HumidityOffset: v.GetFloat64("hardware.humidity_offset"),
		},
		Sim: Sim{
			TemperatureF: optionalFloat(v, "sim.temperature_f"),
			HumidityPct:  optionalFloat(v, "sim.humidity_pct"),
			SoilPct:      optionalFloat(v, "sim.soil_pct"),
		},
		MQTT: MQTT{
			BrokerURL:     v.GetString("mqtt.broker_url"),
			ClientID:      v.GetString("mqtt.client_id"),
			Username:      v.GetString("mqtt.username"),
			Password:      v.GetString("mqtt.password"),
			TopicPrefix:   v.GetString("mqtt.topic_prefix"),
			MaxRetries:    v.GetInt("mqtt.max_retries"),
			RetryInterval: v.GetDuration("mqtt.retry_interval"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and the constraints that cannot be expressed as defaults.
func (c *Config) Validate() error {
	if c.Schedule.Window.Wraps() {
		return fmt.Errorf("%w: on %s, off %s", ErrInvalidWindow,
			models.FormatSecOfDay(c.Schedule.Window.OnSec()), models.FormatSecOfDay(c.Schedule.Window.OffSec()))
	}

	var problems []string
	positive := map[string]time.Duration{
		"loop.interval":                     c.LoopInterval,
		"schedule.fan_interval_seconds":     c.Schedule.FanInterval,
		"schedule.fan_periodic_run_seconds": c.Schedule.FanPeriodicRun,
		"schedule.fan_humidity_run_seconds": c.Schedule.FanHumidityRun,
		"schedule.pump_run_seconds":         c.Schedule.PumpRun,
		"http.accept_timeout":               c.HTTP.AcceptTimeout,
	}
	for key, d := range positive {
		if d <= 0 {
			problems = append(problems, key+" must be positive")
		}
	}
	if c.Schedule.SoilDryThreshold < 0 || c.Schedule.SoilDryThreshold > 100 {
		problems = append(problems, "schedule.soil_dry_threshold must be within [0,100]")
	}
	if c.Schedule.HumidityThresholdPct < 0 || c.Schedule.HumidityThresholdPct > 100 {
		problems = append(problems, "schedule.humidity_threshold_pct must be within [0,100]")
	}
	if c.LogCapacity < 1 {
		problems = append(problems, "schedule.log_capacity must be at least 1")
	}
	switch c.Hardware.Mode {
	case ModeRaspi:
		if c.Hardware.SoilWetRaw >= c.Hardware.SoilDryRaw {
			problems = append(problems, "hardware.soil_wet_raw must be below hardware.soil_dry_raw")
		}
	case ModeSim:
	default:
		problems = append(problems, fmt.Sprintf("hardware.mode %q is not one of raspi, sim", c.Hardware.Mode))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}

	if c.MQTT.Username != "" && c.MQTT.Password == "" {
		return ErrMissingCredentials
	}
	return nil
}

func parseWindow(on, off string) (models.ScheduleWindow, error) {
	onT, err := time.Parse("15:04", on)
	if err != nil {
		return models.ScheduleWindow{}, fmt.Errorf("%w: schedule.light_on_time %q: want HH:MM", ErrInvalidConfig, on)
	}
	offT, err := time.Parse("15:04", off)
	if err != nil {
		return models.ScheduleWindow{}, fmt.Errorf("%w: schedule.light_off_time %q: want HH:MM", ErrInvalidConfig, off)
	}
	return models.ScheduleWindow{
		OnHour:    onT.Hour(),
		OnMinute:  onT.Minute(),
		OffHour:   offT.Hour(),
		OffMinute: offT.Minute(),
	}, nil
}

func seconds(v *viper.Viper, key string) time.Duration {
	return time.Duration(v.GetInt(key)) * time.Second
}

func optionalFloat(v *viper.Viper, key string) *float64 {
	if !v.IsSet(key) {
		return nil
	}
	f := v.GetFloat64(key)
	return &f
}
