// config.go: settings struct and loading for the RoadSentry application.
package conf

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/roadsentry/roadsentry-go/internal/errors"
)

// MainSettings holds application-wide settings and event metadata attached
// to every confirmed accident event.
type MainSettings struct {
	Name     string // name of this node, used in log and message headers
	Location string // human-readable camera location, included in alerts
	CameraID string // camera identifier, included in alerts
	Log      struct {
		Enabled bool   // true to enable file logging
		Path    string // path to log file
	}
}

// ReconnectSettings controls stream reconnection behavior.
type ReconnectSettings struct {
	MaxRetries   int           // attempts before the source gives up
	InitialDelay time.Duration // delay before the first retry
	MaxDelay     time.Duration // backoff cap
}

// StreamSettings contains settings for the video frame source.
type StreamSettings struct {
	Source         string        // video file path or RTSP URL
	Transport      string        // RTSP transport, "tcp" or "udp"
	FfmpegPath     string        // path to ffmpeg binary, runtime value
	SampleInterval time.Duration // interval between sampled frames
	Width          int           // sampled frame width
	Height         int           // sampled frame height
	Reconnect      ReconnectSettings
}

// DetectionSettings contains the temporal confirmation tunables.
type DetectionSettings struct {
	LowThreshold       float64       // score that arms the accumulation window
	HighThreshold      float64       // score counted towards confirmation
	WindowSize         int           // sliding window length in samples
	MinConfirmFraction float64       // fraction of window above HighThreshold to confirm
	WindowTimeout      time.Duration // accumulation window expiry
	Cooldown           time.Duration // quiescence period after confirmation
}

// ClassifierSettings selects and configures the accident score provider.
type ClassifierSettings struct {
	Type       string // "onnx" for the local model
	ModelPath  string // path to the ONNX model file
	RuntimeLib string // path to the onnxruntime shared library
	Threads    int    // intra-op threads, 0 for runtime default
}

// ProductSettings toggles individual enrichment products.
type ProductSettings struct {
	SceneDescription   bool
	StructuredFindings bool
	Recommendations    bool
	Report             bool
}

// GeminiSettings configures the cloud analysis provider.
type GeminiSettings struct {
	APIKey string `yaml:"-"` // from GEMINI_API_KEY, never persisted
	Model  string
}

// OllamaSettings configures the local analysis provider.
type OllamaSettings struct {
	Host  string
	Model string
}

// EnrichmentSettings configures post-confirmation analysis.
type EnrichmentSettings struct {
	Enabled        bool
	Provider       string        // "gemini" or "ollama"
	Timeout        time.Duration // per product call
	EventTimeout   time.Duration // ceiling for the whole event's enrichment
	MaxRetries     int           // retries per product call
	Concurrency    int           // concurrent provider requests cap
	Temperature    float64
	NotifyProgress bool // send "analysis in progress" messages
	Products       ProductSettings
	Gemini         GeminiSettings
	Ollama         OllamaSettings
}

// TelegramSettings configures the Telegram Bot API transport.
type TelegramSettings struct {
	Enabled    bool
	Token      string `yaml:"-"` // from TELEGRAM_BOT_TOKEN, never persisted
	AlertChat  string // chat id for urgent alerts
	ReportChat string // chat id for analytical reports
	Timeout    time.Duration
}

// ShoutrrrSettings configures additional text-only push destinations.
type ShoutrrrSettings struct {
	Enabled bool
	URLs    []string
	Timeout time.Duration
}

// RetrySettings controls delivery retry behavior.
type RetrySettings struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// NotifySettings groups notification transports and delivery policy.
type NotifySettings struct {
	Telegram TelegramSettings
	Shoutrrr ShoutrrrSettings
	Retry    RetrySettings
}

// MQTTSettings configures the optional confirmed-event publisher.
type MQTTSettings struct {
	Enabled  bool
	Broker   string
	Topic    string
	Username string
	Password string `yaml:"-"`
	Retain   bool
}

// MetricsSettings configures the Prometheus endpoint.
type MetricsSettings struct {
	Enabled bool
	Listen  string
}

// Settings is the root configuration, read once at startup.
type Settings struct {
	Debug      bool
	Main       MainSettings
	Stream     StreamSettings
	Detection  DetectionSettings
	Classifier ClassifierSettings
	Enrichment EnrichmentSettings
	Notify     NotifySettings
	MQTT       MQTTSettings
	Metrics    MetricsSettings
}

var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Setting returns the shared Settings instance, loading it on first use.
func Setting() *Settings {
	once.Do(func() {
		settingsMutex.Lock()
		defer settingsMutex.Unlock()
		if settingsInstance == nil {
			settingsInstance = Load()
		}
	})
	return settingsInstance
}

// Load reads the configuration from file, environment and defaults.
// Missing config file is not an error; defaults plus environment apply.
func Load() *Settings {
	settings := &Settings{}

	initViper()

	if err := viper.Unmarshal(settings); err != nil {
		log.Fatalf("Error unmarshaling config into struct: %v", err)
	}

	bindSecretsFromEnv(settings)

	return settings
}

func initViper() {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		log.Fatalf("Error getting default config paths: %v", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	viper.SetEnvPrefix("roadsentry")
	viper.AutomaticEnv()

	setDefaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !asConfigFileNotFound(err, &notFound) {
			log.Fatalf("Error reading config file: %v", err)
		}
		// No config file found, create one from defaults.
		if createErr := createDefaultConfig(configPaths[0]); createErr != nil {
			log.Printf("Could not write default config file: %v", createErr)
		}
	}
}

func asConfigFileNotFound(err error, target *viper.ConfigFileNotFoundError) bool {
	if e, ok := err.(viper.ConfigFileNotFoundError); ok {
		*target = e
		return true
	}
	return false
}

// bindSecretsFromEnv pulls credentials from the environment variables the
// original deployment scripts already export. These intentionally bypass
// viper so tokens never end up inside a persisted config file.
func bindSecretsFromEnv(settings *Settings) {
	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" {
		settings.Notify.Telegram.Token = token
	}
	if chat := os.Getenv("TELEGRAM_CHAT_ID_ALERT"); chat != "" {
		settings.Notify.Telegram.AlertChat = chat
	}
	if chat := os.Getenv("TELEGRAM_CHAT_ID_REPORT"); chat != "" {
		settings.Notify.Telegram.ReportChat = chat
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		settings.Enrichment.Gemini.APIKey = key
	}
	if host := os.Getenv("OLLAMA_HOST"); host != "" {
		settings.Enrichment.Ollama.Host = host
	}
	if pass := os.Getenv("ROADSENTRY_MQTT_PASSWORD"); pass != "" {
		settings.MQTT.Password = pass
	}
}

// GetDefaultConfigPaths returns the directories searched for config.yaml,
// most specific first.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("error fetching user home directory: %w", err)
	}
	return []string{
		filepath.Join(homeDir, ".config", "roadsentry"),
		".",
	}, nil
}

// createDefaultConfig writes the current (default) settings to a new
// config.yaml in the given directory so operators have a file to edit.
func createDefaultConfig(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Newf("error creating config directory %s: %w", dir, err).
			Component("conf").
			Category(errors.CategoryFileIO).
			Build()
	}

	configPath := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(configPath); err == nil {
		return nil // already exists
	}

	defaults := viper.AllSettings()
	out, err := yaml.Marshal(defaults)
	if err != nil {
		return fmt.Errorf("error marshaling default config: %w", err)
	}

	if err := os.WriteFile(configPath, out, 0o644); err != nil {
		return errors.Newf("error writing default config: %w", err).
			Component("conf").
			Category(errors.CategoryFileIO).
			Build()
	}

	log.Printf("Created default config file at %s", configPath)
	return nil
}
