package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every setting of the carbon-gate controller.
type Config struct {
	// Carbon configures the carbon-intensity provider and the reading window.
	Carbon CarbonConfig `yaml:"carbon"`
	// Meter configures the power-metering provider.
	Meter MeterConfig `yaml:"meter"`
	// Actuator configures the outbound command channel.
	Actuator ActuatorConfig `yaml:"actuator"`
	// Loop configures the polling delays.
	Loop LoopConfig `yaml:"loop"`
	// StateFile is the path of the persisted reading window.
	StateFile string `yaml:"state_file"`
	// LockFile guards the state file against a second controller instance.
	LockFile string `yaml:"lock_file"`
	// HTTPAddress is the listen address of the status and metrics endpoint. Empty disables it.
	HTTPAddress string `yaml:"http_addr"`
	// GRPCAddress is the listen address of the gRPC health service. Empty disables it.
	GRPCAddress string `yaml:"grpc_addr"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
	// LogFormat is either console or json.
	LogFormat string `yaml:"log_format"`
}

// CarbonConfig describes the carbon-intensity provider.
type CarbonConfig struct {
	// Region is the provider's country or zone code.
	Region string `yaml:"region"`
	// APIKey is sent as the auth-token header.
	APIKey string `yaml:"api_key"`
	// BaseURL overrides the provider endpoint.
	BaseURL string `yaml:"base_url"`
	// Units is the label shown next to intensity values.
	Units string `yaml:"units"`
	// UpdateInterval is the minimum time between two carbon fetches.
	UpdateInterval time.Duration `yaml:"update_interval"`
	// WindowCapacity is the number of readings kept for the threshold.
	WindowCapacity int `yaml:"window_capacity"`
	// WindowPreset picks a capacity by name (short or long) when WindowCapacity is zero.
	WindowPreset string `yaml:"window_preset"`
	// Timeout bounds a single provider request.
	Timeout time.Duration `yaml:"timeout"`
}

// MeterConfig describes the power-metering provider.
type MeterConfig struct {
	// Username is the metering account e-mail.
	Username string `yaml:"username"`
	// Password is the metering account password.
	Password string `yaml:"password"`
	// Device is the name of the device whose draw blocks the appliance.
	Device string `yaml:"device"`
	// DrawThreshold is the draw in watts at or above which the device counts as on.
	DrawThreshold float64 `yaml:"draw_threshold"`
	// AuthURL overrides the authentication endpoint.
	AuthURL string `yaml:"auth_url"`
	// RealtimeURL overrides the realtime feed endpoint.
	RealtimeURL string `yaml:"realtime_url"`
	// Timeout bounds one realtime read.
	Timeout time.Duration `yaml:"timeout"`
}

// ActuatorConfig describes where on/off commands go.
type ActuatorConfig struct {
	// Kind is webhook, mqtt or log.
	Kind string `yaml:"kind"`
	// WebhookKey is the maker webhook key.
	WebhookKey string `yaml:"webhook_key"`
	// WebhookURL is a template with {event} and {key} placeholders.
	WebhookURL string `yaml:"webhook_url"`
	// OnEvent is the webhook event fired to turn the appliance on.
	OnEvent string `yaml:"on_event"`
	// OffEvent is the webhook event fired to turn the appliance off.
	OffEvent string `yaml:"off_event"`
	// MQTTBroker is the broker URL, e.g. tcp://localhost:1883.
	MQTTBroker string `yaml:"mqtt_broker"`
	// MQTTTopic receives "on" and "off" payloads.
	MQTTTopic string `yaml:"mqtt_topic"`
	// MQTTClientID identifies the controller at the broker.
	MQTTClientID string `yaml:"mqtt_client_id"`
	// MQTTUsername and MQTTPassword are optional broker credentials.
	MQTTUsername string `yaml:"mqtt_username"`
	MQTTPassword string `yaml:"mqtt_password"`
	// Timeout bounds a single command.
	Timeout time.Duration `yaml:"timeout"`
}

// LoopConfig holds the polling delays.
type LoopConfig struct {
	// ShortDelay is used while the carbon verdict is not failing.
	ShortDelay time.Duration `yaml:"short_delay"`
	// LongDelay is used while the carbon verdict is failing.
	LongDelay time.Duration `yaml:"long_delay"`
}

// Actuator kinds.
const (
	ActuatorWebhook = "webhook"
	ActuatorMQTT    = "mqtt"
	ActuatorLog     = "log"
)

// Window presets.
const (
	WindowPresetShort = "short"
	WindowPresetLong  = "long"

	ShortWindowCapacity = 72
	LongWindowCapacity  = 336
)

const (
	// DefaultConfigFilename is the default filename for settings.
	DefaultConfigFilename = "carbon-gate.yaml"
	// DefaultEnvFilename is the default dotenv file with secrets.
	DefaultEnvFilename = ".env"
	// DefaultStateFilename is the default filename of the reading window.
	DefaultStateFilename = "co2_readings.json"
	// DefaultLockFilename is the default instance lock file.
	DefaultLockFilename = "carbon-gate.pid"

	// DefaultCarbonBaseURL is the CO2 Signal API root.
	DefaultCarbonBaseURL = "https://api.co2signal.com"
	// DefaultCarbonUnits is the unit label of carbon readings.
	DefaultCarbonUnits = "CO2eq/kWh"
	// DefaultUpdateInterval is the minimum time between carbon fetches.
	DefaultUpdateInterval = 30 * time.Minute

	// DefaultDrawThreshold is the device draw in watts that blocks the appliance.
	DefaultDrawThreshold = 50.0
	// DefaultMeterAuthURL is the Sense authentication endpoint.
	DefaultMeterAuthURL = "https://api.sense.com/apiservice/api/v1/authenticate"
	// DefaultMeterRealtimeURL is the Sense realtime feed, {monitor} is replaced by the monitor id.
	DefaultMeterRealtimeURL = "wss://clientrt.sense.com/monitors/{monitor}/realtimefeed"

	// DefaultWebhookURL is the IFTTT maker trigger template.
	DefaultWebhookURL = "https://maker.ifttt.com/trigger/{event}/with/key/{key}"
	// DefaultOnEvent and DefaultOffEvent are the webhook event names.
	DefaultOnEvent  = "dehumidifier_on"
	DefaultOffEvent = "dehumidifier_off"
	// DefaultMQTTTopic receives on/off payloads.
	DefaultMQTTTopic = "home/dehumidifier/set"
	// DefaultMQTTClientID identifies the controller at the broker.
	DefaultMQTTClientID = "carbon-gate"

	// DefaultShortDelay is the normal polling delay.
	DefaultShortDelay = 120 * time.Second
	// DefaultLongDelay is the back-off delay while carbon intensity is high.
	DefaultLongDelay = 1800 * time.Second

	// DefaultTimeout is the default duration for network operations.
	DefaultTimeout = 5 * time.Second

	// DefaultFilePermissions is the default permission for files written by the controller.
	DefaultFilePermissions = 0o600
)

// Environment variables that override YAML values.
const (
	EnvCarbonKey      = "CO2SIGNAL_KEY"
	EnvCarbonRegion   = "CO2SIGNAL_REGION"
	EnvMeterUsername  = "SENSE_USERNAME"
	EnvMeterPassword  = "SENSE_PASSWORD"
	EnvTriggerDevice  = "TRIGGER_DEVICE"
	EnvWebhookKey     = "WEBHOOK_KEY"
	EnvMQTTBrokerAddr = "MQTT_BROKER"
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errRegionRequired is returned when the carbon region is missing.
	errRegionRequired = errors.New("carbon region must be provided")
	// errAPIKeyRequired is returned when the carbon API key is missing.
	errAPIKeyRequired = errors.New("carbon api key must be provided")
	// errDeviceRequired is returned when no trigger device is configured.
	errDeviceRequired = errors.New("meter device must be provided")
	// errMeterCredentials is returned when the meter account is incomplete.
	errMeterCredentials = errors.New("meter username and password must be provided")
	// errWebhookKeyRequired is returned when the webhook actuator has no key.
	errWebhookKeyRequired = errors.New("webhook key must be provided")
	// errBrokerRequired is returned when the MQTT actuator has no broker.
	errBrokerRequired = errors.New("mqtt broker must be provided")
	// errUnknownActuator is returned for an unsupported actuator kind.
	errUnknownActuator = errors.New("unknown actuator kind")
	// errUnknownPreset is returned for an unsupported window preset.
	errUnknownPreset = errors.New("unknown window preset")
	// errBadDelays is returned when the long delay is shorter than the short one.
	errBadDelays = errors.New("long delay must not be shorter than short delay")
	// errBadCapacity is returned for a negative window capacity.
	errBadCapacity = errors.New("window capacity must be positive")
	// errBadThreshold is returned for a non-positive draw threshold.
	errBadThreshold = errors.New("draw threshold must be positive")
)

// Default returns a configuration with every optional field populated.
// Secrets and the region stay empty.
func Default() *Config {
	cfg := new(Config)
	applyDefaults(cfg)

	return cfg
}

// Load reads configuration from the provided path, applies environment overrides
// and validates the result. A missing file is not an error when every required
// value comes from the environment.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}

	if err = Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Read is Load without the required-field checks, for commands that only
// inspect local files. Defaults are applied.
func Read(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	var cfg Config

	contents, err := os.ReadFile(filepath.Clean(path))

	switch {
	case err == nil:
		if err = yaml.Unmarshal(contents, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal settings: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
		// Environment only.
	default:
		return nil, fmt.Errorf("read settings: %w", err)
	}

	ApplyEnv(&cfg, os.LookupEnv)
	applyDefaults(&cfg)

	return &cfg, nil
}

// Save writes the configuration to the provided path.
// Unlike Load it does not require secrets so that a template can be generated.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions, the file may hold secrets.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// ApplyEnv overrides configuration values with the environment variables
// understood by the controller. lookup is usually os.LookupEnv.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	overrides := []struct {
		name   string
		target *string
	}{
		{EnvCarbonKey, &cfg.Carbon.APIKey},
		{EnvCarbonRegion, &cfg.Carbon.Region},
		{EnvMeterUsername, &cfg.Meter.Username},
		{EnvMeterPassword, &cfg.Meter.Password},
		{EnvTriggerDevice, &cfg.Meter.Device},
		{EnvWebhookKey, &cfg.Actuator.WebhookKey},
		{EnvMQTTBrokerAddr, &cfg.Actuator.MQTTBroker},
	}

	for _, o := range overrides {
		if value, ok := lookup(o.name); ok && strings.TrimSpace(value) != "" {
			*o.target = strings.TrimSpace(value)
		}
	}
}

// Validate fills defaults and checks the settings for required fields and formatting.
//
//nolint:cyclop // A flat list of checks reads better than a table here.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	applyDefaults(cfg)

	if cfg.Carbon.Region == "" {
		return errRegionRequired
	}

	if cfg.Carbon.APIKey == "" {
		return errAPIKeyRequired
	}

	if _, err := url.ParseRequestURI(cfg.Carbon.BaseURL); err != nil {
		return fmt.Errorf("invalid carbon base URL: %w", err)
	}

	if cfg.Carbon.WindowCapacity < 0 {
		return errBadCapacity
	}

	if cfg.Meter.Device == "" {
		return errDeviceRequired
	}

	if cfg.Meter.Username == "" || cfg.Meter.Password == "" {
		return errMeterCredentials
	}

	if cfg.Meter.DrawThreshold <= 0 {
		return errBadThreshold
	}

	if cfg.Loop.LongDelay < cfg.Loop.ShortDelay {
		return errBadDelays
	}

	if err := validateActuator(&cfg.Actuator); err != nil {
		return err
	}

	for _, address := range []string{cfg.HTTPAddress, cfg.GRPCAddress} {
		if address == "" {
			continue
		}

		if _, err := net.ResolveTCPAddr("tcp", address); err != nil {
			return fmt.Errorf("invalid listen address %q: %w", address, err)
		}
	}

	return nil
}

// Capacity resolves the reading window capacity from the explicit value or the preset.
func (c *CarbonConfig) Capacity() (int, error) {
	if c.WindowCapacity > 0 {
		return c.WindowCapacity, nil
	}

	switch strings.ToLower(c.WindowPreset) {
	case WindowPresetShort:
		return ShortWindowCapacity, nil
	case WindowPresetLong, "":
		return LongWindowCapacity, nil
	default:
		return 0, fmt.Errorf("%w: %s", errUnknownPreset, c.WindowPreset)
	}
}

func validateActuator(a *ActuatorConfig) error {
	switch a.Kind {
	case ActuatorWebhook:
		if a.WebhookKey == "" {
			return errWebhookKeyRequired
		}

		if _, err := url.ParseRequestURI(a.WebhookURL); err != nil {
			return fmt.Errorf("invalid webhook URL: %w", err)
		}
	case ActuatorMQTT:
		if a.MQTTBroker == "" {
			return errBrokerRequired
		}
	case ActuatorLog:
	default:
		return fmt.Errorf("%w: %s", errUnknownActuator, a.Kind)
	}

	return nil
}

//nolint:cyclop // One branch per optional field.
func applyDefaults(cfg *Config) {
	setString := func(target *string, value string) {
		if *target == "" {
			*target = value
		}
	}

	setDuration := func(target *time.Duration, value time.Duration) {
		if *target <= 0 {
			*target = value
		}
	}

	setString(&cfg.Carbon.BaseURL, DefaultCarbonBaseURL)
	setString(&cfg.Carbon.Units, DefaultCarbonUnits)
	setDuration(&cfg.Carbon.UpdateInterval, DefaultUpdateInterval)
	setDuration(&cfg.Carbon.Timeout, DefaultTimeout)

	if cfg.Carbon.WindowCapacity == 0 && cfg.Carbon.WindowPreset == "" {
		cfg.Carbon.WindowPreset = WindowPresetLong
	}

	if cfg.Meter.DrawThreshold == 0 {
		cfg.Meter.DrawThreshold = DefaultDrawThreshold
	}

	setString(&cfg.Meter.AuthURL, DefaultMeterAuthURL)
	setString(&cfg.Meter.RealtimeURL, DefaultMeterRealtimeURL)
	setDuration(&cfg.Meter.Timeout, DefaultTimeout)

	setString(&cfg.Actuator.Kind, ActuatorWebhook)
	setString(&cfg.Actuator.WebhookURL, DefaultWebhookURL)
	setString(&cfg.Actuator.OnEvent, DefaultOnEvent)
	setString(&cfg.Actuator.OffEvent, DefaultOffEvent)
	setString(&cfg.Actuator.MQTTTopic, DefaultMQTTTopic)
	setString(&cfg.Actuator.MQTTClientID, DefaultMQTTClientID)
	setDuration(&cfg.Actuator.Timeout, DefaultTimeout)

	setDuration(&cfg.Loop.ShortDelay, DefaultShortDelay)
	setDuration(&cfg.Loop.LongDelay, DefaultLongDelay)

	setString(&cfg.StateFile, DefaultStateFilename)
	setString(&cfg.LockFile, DefaultLockFilename)
	setString(&cfg.LogLevel, "info")
	setString(&cfg.LogFormat, "console")
}
