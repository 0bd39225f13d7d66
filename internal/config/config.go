package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Stream   StreamConfig   `yaml:"stream" mapstructure:"stream"`
	Detector DetectorConfig `yaml:"detector" mapstructure:"detector"`
	OCR      OCRConfig      `yaml:"ocr" mapstructure:"ocr"`
	Scoring  ScoringConfig  `yaml:"scoring" mapstructure:"scoring"`
	Tracker  TrackerConfig  `yaml:"tracker" mapstructure:"tracker"`
	Recorder RecorderConfig `yaml:"recorder" mapstructure:"recorder"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StreamConfig configures frame ingestion for one stream.
type StreamConfig struct {
	Source        string  `yaml:"source" mapstructure:"source"` // file path or RTSP URL
	FPS           float64 `yaml:"fps" mapstructure:"fps"`
	SkipFactor    int     `yaml:"skip_factor" mapstructure:"skip_factor"`         // process 1 of every N frames
	MaxRate       float64 `yaml:"max_rate" mapstructure:"max_rate"`               // frames/sec admitted, 0 = unlimited
	DeadlineMs    int     `yaml:"deadline_ms" mapstructure:"deadline_ms"`         // per-frame processing deadline
	SweepEverySec int     `yaml:"sweep_every_sec" mapstructure:"sweep_every_sec"` // registry reap interval
}

// Deadline returns the per-frame processing deadline.
func (s StreamConfig) Deadline() time.Duration {
	return time.Duration(s.DeadlineMs) * time.Millisecond
}

// SweepInterval returns how often expired tracks are reaped.
func (s StreamConfig) SweepInterval() time.Duration {
	return time.Duration(s.SweepEverySec) * time.Second
}

// DetectorConfig configures the object detector adapter.
type DetectorConfig struct {
	ModelPath     string   `yaml:"model_path" mapstructure:"model_path"`
	ConfigPath    string   `yaml:"config_path" mapstructure:"config_path"`
	NamesPath     string   `yaml:"names_path" mapstructure:"names_path"` // class names, one per line
	InputSize     int      `yaml:"input_size" mapstructure:"input_size"`
	MinConfidence float64  `yaml:"min_confidence" mapstructure:"min_confidence"`
	NMSThreshold  float64  `yaml:"nms_threshold" mapstructure:"nms_threshold"`
	PlateClasses  []string `yaml:"plate_classes" mapstructure:"plate_classes"`
}

// OCRConfig configures text recognition on plate crops.
type OCRConfig struct {
	ModelPath string `yaml:"model_path" mapstructure:"model_path"` // CRNN onnx model
	Alphabet  string `yaml:"alphabet" mapstructure:"alphabet"`
	TimeoutMs int    `yaml:"timeout_ms" mapstructure:"timeout_ms"`
}

// Timeout returns the per-call recognizer timeout.
func (o OCRConfig) Timeout() time.Duration {
	return time.Duration(o.TimeoutMs) * time.Millisecond
}

// ScoringConfig configures text-candidate scoring.
type ScoringConfig struct {
	Patterns      []string `yaml:"patterns" mapstructure:"patterns"` // e.g. "LLL NNNN"
	Exclusions    []string `yaml:"exclusions" mapstructure:"exclusions"`
	MinConfidence float64  `yaml:"min_confidence" mapstructure:"min_confidence"` // persist threshold
}

// TrackerConfig configures the object tracker.
type TrackerConfig struct {
	ExpirySec     int     `yaml:"expiry_sec" mapstructure:"expiry_sec"`
	MatchGate     float64 `yaml:"match_gate" mapstructure:"match_gate"`         // max assignable cost
	MotionWeight  float64 `yaml:"motion_weight" mapstructure:"motion_weight"`   // vs appearance
	MinConfidence float64 `yaml:"min_confidence" mapstructure:"min_confidence"` // detections below are ignored
}

// Expiry returns the track liveness window.
func (t TrackerConfig) Expiry() time.Duration {
	return time.Duration(t.ExpirySec) * time.Second
}

// RecorderConfig configures evidence recording.
type RecorderConfig struct {
	Dir              string  `yaml:"dir" mapstructure:"dir"`
	PreEventSec      int     `yaml:"pre_event_sec" mapstructure:"pre_event_sec"`
	PostEventSec     int     `yaml:"post_event_sec" mapstructure:"post_event_sec"`
	TriggerThreshold float64 `yaml:"trigger_threshold" mapstructure:"trigger_threshold"`
	Codec            string  `yaml:"codec" mapstructure:"codec"`
}

// PreEvent returns the rolling pre-event window duration.
func (r RecorderConfig) PreEvent() time.Duration {
	return time.Duration(r.PreEventSec) * time.Second
}

// PostEvent returns the post-event duration measured from the last
// qualifying detection.
func (r RecorderConfig) PostEvent() time.Duration {
	return time.Duration(r.PostEventSec) * time.Second
}

// StoreConfig configures the dual-write persistence layer.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "sqlite" or "postgres"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	ExportDir   string `yaml:"export_dir" mapstructure:"export_dir"`
}

// ServerConfig configures the boundary JSON server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PLATEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("stream.fps", 30.0)
	v.SetDefault("stream.skip_factor", 1)
	v.SetDefault("stream.max_rate", 0.0)
	v.SetDefault("stream.deadline_ms", 500)
	v.SetDefault("stream.sweep_every_sec", 30)
	v.SetDefault("detector.input_size", 416)
	v.SetDefault("detector.min_confidence", 0.4)
	v.SetDefault("detector.nms_threshold", 0.45)
	v.SetDefault("detector.plate_classes", []string{"license_plate"})
	v.SetDefault("ocr.alphabet", "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ")
	v.SetDefault("ocr.timeout_ms", 400)
	v.SetDefault("scoring.patterns", []string{"LLL NNNN", "LLLNNNN"})
	v.SetDefault("scoring.min_confidence", 0.3)
	v.SetDefault("tracker.expiry_sec", 60)
	v.SetDefault("tracker.match_gate", 0.7)
	v.SetDefault("tracker.motion_weight", 0.5)
	v.SetDefault("tracker.min_confidence", 0.25)
	v.SetDefault("recorder.dir", "evidence")
	v.SetDefault("recorder.pre_event_sec", 5)
	v.SetDefault("recorder.post_event_sec", 15)
	v.SetDefault("recorder.trigger_threshold", 0.6)
	v.SetDefault("recorder.codec", "MJPG")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "platewatch.db")
	v.SetDefault("store.export_dir", "export")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
