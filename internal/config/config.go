package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Host string
	Port int
}

type DBConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type AuthConfig struct {
	AccessSecret string
}

type VideoConfig struct {
	Input       string
	FPS         float64
	ModelPath   string
	ModelConfig string
	Classes     []int
	Confidence  float64
	InputSize   int
}

type TrackingConfig struct {
	IOUThreshold float64
	MaxAge       time.Duration
}

type SpeedConfig struct {
	DistanceCalibration float64
	MaxAgeFrames        int
}

// ViolationConfig.MinPlateLength is the single plate length floor, applied
// both when cleaning recognized text and when admitting a violation.
type ViolationConfig struct {
	SpeedLimit      float64
	SanityCeiling   float64
	MinPlateLength  int
	WindowSeconds   int
	RetainedBuckets int
	Location        string
	OutputDir       string
}

type PlateConfig struct {
	AnthropicAPIKey string
	AnthropicURL    string
	Model           string
	MaxLength       int
}

type SMTPConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	Sender     string
	Recipients []string
}

func (c SMTPConfig) Enabled() bool {
	return c.Host != "" && c.Sender != "" && len(c.Recipients) > 0
}

type NotificationConfig struct {
	LogFile      string
	SlackToken   string
	SlackChannel string
	SMTP         SMTPConfig
	QueueSize    int
}

type RetentionConfig struct {
	Schedule string
	Days     int
}

type Config struct {
	Environment  string
	HTTP         HTTPConfig
	DB           DBConfig
	Auth         AuthConfig
	Video        VideoConfig
	Tracking     TrackingConfig
	Speed        SpeedConfig
	Violation    ViolationConfig
	Plate        PlateConfig
	Notification NotificationConfig
	Retention    RetentionConfig
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("app")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("./deploy")
	v.AddConfigPath("./internal/config")

	v.AutomaticEnv()

	_ = v.ReadInConfig()

	cfg := &Config{
		Environment: v.GetString("APP_ENV"),
		HTTP: HTTPConfig{
			Host: v.GetString("HTTP_HOST"),
			Port: v.GetInt("HTTP_PORT"),
		},
		DB: DBConfig{
			DSN:             v.GetString("DB_DSN"),
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetDuration("DB_CONN_MAX_LIFETIME"),
		},
		Auth: AuthConfig{
			AccessSecret: v.GetString("JWT_ACCESS_SECRET"),
		},
		Video: VideoConfig{
			Input:       v.GetString("VIDEO_INPUT"),
			FPS:         v.GetFloat64("VIDEO_FPS"),
			ModelPath:   v.GetString("DETECTOR_MODEL_PATH"),
			ModelConfig: v.GetString("DETECTOR_CONFIG_PATH"),
			Classes:     parseInts(v.GetString("DETECTOR_CLASSES")),
			Confidence:  v.GetFloat64("DETECTOR_CONFIDENCE"),
			InputSize:   v.GetInt("DETECTOR_INPUT_SIZE"),
		},
		Tracking: TrackingConfig{
			IOUThreshold: v.GetFloat64("IOU_THRESHOLD"),
			MaxAge:       v.GetDuration("TRACK_MAX_AGE"),
		},
		Speed: SpeedConfig{
			DistanceCalibration: v.GetFloat64("DISTANCE_CALIBRATION"),
			MaxAgeFrames:        v.GetInt("SPEED_MAX_AGE_FRAMES"),
		},
		Violation: ViolationConfig{
			SpeedLimit:      v.GetFloat64("SPEED_LIMIT_KMH"),
			SanityCeiling:   v.GetFloat64("SPEED_SANITY_CEILING_KMH"),
			MinPlateLength:  v.GetInt("MIN_PLATE_LENGTH"),
			WindowSeconds:   v.GetInt("VIOLATION_WINDOW_SECONDS"),
			RetainedBuckets: v.GetInt("VIOLATION_RETAINED_BUCKETS"),
			Location:        v.GetString("CAMERA_LOCATION"),
			OutputDir:       v.GetString("OUTPUT_DIR"),
		},
		Plate: PlateConfig{
			AnthropicAPIKey: v.GetString("ANTHROPIC_API_KEY"),
			AnthropicURL:    v.GetString("ANTHROPIC_BASE_URL"),
			Model:           v.GetString("PLATE_MODEL"),
			MaxLength:       v.GetInt("PLATE_MAX_LENGTH"),
		},
		Notification: NotificationConfig{
			LogFile:      v.GetString("NOTIFICATION_LOG_FILE"),
			SlackToken:   v.GetString("SLACK_BOT_TOKEN"),
			SlackChannel: v.GetString("SLACK_CHANNEL"),
			SMTP: SMTPConfig{
				Host:       v.GetString("SMTP_HOST"),
				Port:       v.GetInt("SMTP_PORT"),
				Username:   v.GetString("SMTP_USERNAME"),
				Password:   v.GetString("SMTP_PASSWORD"),
				Sender:     v.GetString("SMTP_SENDER"),
				Recipients: parseList(v.GetString("SMTP_RECIPIENTS")),
			},
			QueueSize: v.GetInt("NOTIFICATION_QUEUE_SIZE"),
		},
		Retention: RetentionConfig{
			Schedule: v.GetString("RETENTION_SCHEDULE"),
			Days:     v.GetInt("RETENTION_DAYS"),
		},
	}

	applyDefaults(cfg, v)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config, v *viper.Viper) {
	if cfg.HTTP.Host == "" {
		cfg.HTTP.Host = "0.0.0.0"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.DB.DSN == "" {
		cfg.DB.DSN = "output/violations.db"
	}
	if cfg.Video.Input == "" {
		cfg.Video.Input = "0"
	}
	if cfg.Video.ModelPath == "" {
		cfg.Video.ModelPath = "models/yolov4-tiny.weights"
	}
	if cfg.Video.ModelConfig == "" {
		cfg.Video.ModelConfig = "models/yolov4-tiny.cfg"
	}
	if len(cfg.Video.Classes) == 0 {
		// COCO: car, motorcycle, bus, truck
		cfg.Video.Classes = []int{2, 3, 5, 7}
	}
	if cfg.Video.Confidence == 0 {
		cfg.Video.Confidence = 0.5
	}
	if cfg.Video.InputSize == 0 {
		cfg.Video.InputSize = 416
	}
	if !v.IsSet("IOU_THRESHOLD") {
		cfg.Tracking.IOUThreshold = 0.3
	}
	if !v.IsSet("TRACK_MAX_AGE") {
		cfg.Tracking.MaxAge = time.Second
	}
	if !v.IsSet("DISTANCE_CALIBRATION") {
		cfg.Speed.DistanceCalibration = 10
	}
	if !v.IsSet("SPEED_MAX_AGE_FRAMES") {
		cfg.Speed.MaxAgeFrames = 30
	}
	if !v.IsSet("SPEED_LIMIT_KMH") {
		cfg.Violation.SpeedLimit = 60
	}
	if cfg.Violation.SanityCeiling == 0 {
		cfg.Violation.SanityCeiling = 200
	}
	if !v.IsSet("MIN_PLATE_LENGTH") {
		cfg.Violation.MinPlateLength = 4
	}
	if !v.IsSet("VIOLATION_WINDOW_SECONDS") {
		cfg.Violation.WindowSeconds = 60
	}
	if !v.IsSet("VIOLATION_RETAINED_BUCKETS") {
		cfg.Violation.RetainedBuckets = 2
	}
	if cfg.Violation.Location == "" {
		cfg.Violation.Location = "Main Street"
	}
	if cfg.Violation.OutputDir == "" {
		cfg.Violation.OutputDir = "output"
	}
	if cfg.Plate.MaxLength == 0 {
		cfg.Plate.MaxLength = 10
	}
	if cfg.Notification.LogFile == "" {
		cfg.Notification.LogFile = cfg.Violation.OutputDir + "/notifications.log"
	}
	if cfg.Notification.SMTP.Port == 0 {
		cfg.Notification.SMTP.Port = 587
	}
	if cfg.Notification.QueueSize == 0 {
		cfg.Notification.QueueSize = 64
	}
	if cfg.Retention.Schedule == "" {
		cfg.Retention.Schedule = "0 3 * * *"
	}
}

func validate(cfg *Config) error {
	if cfg.DB.DSN == "" {
		return fmt.Errorf("DB_DSN is required")
	}
	if cfg.Violation.SpeedLimit <= 0 {
		return fmt.Errorf("SPEED_LIMIT_KMH must be positive")
	}
	if cfg.Violation.SanityCeiling <= cfg.Violation.SpeedLimit {
		return fmt.Errorf("SPEED_SANITY_CEILING_KMH must be above SPEED_LIMIT_KMH")
	}
	if cfg.Speed.DistanceCalibration <= 0 {
		return fmt.Errorf("DISTANCE_CALIBRATION must be positive")
	}
	if cfg.Tracking.IOUThreshold <= 0 || cfg.Tracking.IOUThreshold > 1 {
		return fmt.Errorf("IOU_THRESHOLD must be in (0, 1]")
	}
	if cfg.Tracking.MaxAge <= 0 {
		return fmt.Errorf("TRACK_MAX_AGE must be positive")
	}
	if cfg.Speed.MaxAgeFrames <= 0 {
		return fmt.Errorf("SPEED_MAX_AGE_FRAMES must be positive")
	}
	if cfg.Violation.MinPlateLength <= 0 {
		return fmt.Errorf("MIN_PLATE_LENGTH must be positive")
	}
	if cfg.Violation.WindowSeconds <= 0 {
		return fmt.Errorf("VIOLATION_WINDOW_SECONDS must be positive")
	}
	if cfg.Violation.RetainedBuckets < 0 {
		return fmt.Errorf("VIOLATION_RETAINED_BUCKETS must not be negative")
	}
	if cfg.Violation.MinPlateLength > cfg.Plate.MaxLength {
		return fmt.Errorf("MIN_PLATE_LENGTH must not exceed PLATE_MAX_LENGTH")
	}
	if cfg.Video.FPS < 0 {
		return fmt.Errorf("VIDEO_FPS must not be negative")
	}
	if cfg.Retention.Days < 0 {
		return fmt.Errorf("RETENTION_DAYS must not be negative")
	}
	return nil
}

// ValidateAPI checks what only the HTTP API needs.
func (c *Config) ValidateAPI() error {
	if c.Auth.AccessSecret == "" {
		return fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	return nil
}

func parseList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseInts(raw string) []int {
	var out []int
	for _, part := range parseList(raw) {
		var n int
		if _, err := fmt.Sscanf(part, "%d", &n); err == nil {
			out = append(out, n)
		}
	}
	return out
}
