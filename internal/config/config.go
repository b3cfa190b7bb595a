package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pixsqueeze/internal/compressor"
	"pixsqueeze/internal/heic"
	"pixsqueeze/internal/logger"
	"pixsqueeze/internal/media"
	"pixsqueeze/internal/memory"

	"github.com/spf13/viper"
)

const megabyte = 1024 * 1024

// uploadOverheadMB is the room left above the batch cap for multipart framing,
// so an over-cap batch reaches batch validation instead of the body limit.
const uploadOverheadMB = 64

// Config represents the main configuration structure
type Config struct {
	Compression CompressionConfig `mapstructure:"compression"`
	Limits      LimitsConfig      `mapstructure:"limits"`
	HEIC        HEICConfig        `mapstructure:"heic"`
	Memory      MemoryConfig      `mapstructure:"memory"`
	Output      OutputConfig      `mapstructure:"output"`
	Server      ServerConfig      `mapstructure:"server"`
	Watch       WatchConfig       `mapstructure:"watch"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// CompressionConfig contains the default compression request
type CompressionConfig struct {
	Quality      int    `mapstructure:"quality"`
	Format       string `mapstructure:"format"`        // auto, jpeg, png, webp, avif
	CornerRadius string `mapstructure:"corner_radius"` // pixels or "circle"
	Background   string `mapstructure:"background"`    // white, black
	Accelerate   bool   `mapstructure:"accelerate"`
}

// LimitsConfig contains size and dimension ceilings
type LimitsConfig struct {
	MaxFileSizeMB           int64         `mapstructure:"max_file_size_mb"`
	MaxHEICSizeMB           int64         `mapstructure:"max_heic_size_mb"`
	WarnFileSizeMB          int64         `mapstructure:"warn_file_size_mb"`
	MaxBatchSizeMB          int64         `mapstructure:"max_batch_size_mb"`
	MaxDimension            int           `mapstructure:"max_dimension"`
	MaxAcceleratedDimension int           `mapstructure:"max_accelerated_dimension"`
	HEICProbeTimeout        time.Duration `mapstructure:"heic_probe_timeout"`
}

// HEICConfig contains HEIC decoder settings
type HEICConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	CacheSize       int     `mapstructure:"cache_size"`
	CompressQuality float64 `mapstructure:"compress_quality"`
	PreviewQuality  float64 `mapstructure:"preview_quality"`
}

// MemoryConfig contains memory guard settings
type MemoryConfig struct {
	FloorMB int64 `mapstructure:"floor_mb"`
	ForceGC bool  `mapstructure:"force_gc"`
}

// OutputConfig contains settings for saved results
type OutputConfig struct {
	Directory     string `mapstructure:"directory"` // empty saves next to the source
	Overwrite     bool   `mapstructure:"overwrite"`
	StampMetadata bool   `mapstructure:"stamp_metadata"`
}

// ServerConfig contains web server settings
type ServerConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	PreviewSize int    `mapstructure:"preview_size"`
	MaxUploadMB int64  `mapstructure:"max_upload_mb"`
}

// WatchConfig contains watch-folder settings
type WatchConfig struct {
	Directory string        `mapstructure:"directory"`
	Debounce  time.Duration `mapstructure:"debounce"`
	Recursive bool          `mapstructure:"recursive"`
}

// LoggingConfig contains logging settings. It mirrors logger.LoggerConfig field for field.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
	Console    bool   `mapstructure:"console"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	limits := compressor.DefaultLimits()
	return &Config{
		Compression: CompressionConfig{
			Quality:      80,
			Format:       string(media.FormatAuto),
			CornerRadius: "0",
			Background:   string(media.BackgroundWhite),
		},
		Limits: LimitsConfig{
			MaxFileSizeMB:           limits.MaxFileSize / megabyte,
			MaxHEICSizeMB:           limits.MaxHEICSize / megabyte,
			WarnFileSizeMB:          limits.WarnFileSize / megabyte,
			MaxBatchSizeMB:          limits.MaxBatchSize / megabyte,
			MaxDimension:            limits.MaxDimension,
			MaxAcceleratedDimension: limits.MaxAcceleratedDimension,
			HEICProbeTimeout:        limits.HEICProbeTimeout,
		},
		HEIC: HEICConfig{
			Enabled:         true,
			CacheSize:       heic.DefaultCapacity,
			CompressQuality: limits.HEICCompressQuality,
			PreviewQuality:  limits.HEICPreviewQuality,
		},
		Memory: MemoryConfig{
			FloorMB: memory.DefaultFloor / megabyte,
			ForceGC: true,
		},
		Output: OutputConfig{
			Overwrite:     false,
			StampMetadata: true,
		},
		Server: ServerConfig{
			Host:        "localhost",
			Port:        8080,
			PreviewSize: 512,
			MaxUploadMB: limits.MaxBatchSize/megabyte + uploadOverheadMB,
		},
		Watch: WatchConfig{
			Debounce:  500 * time.Millisecond,
			Recursive: false,
		},
		Logging: LoggingConfig(logger.DefaultConfig()),
	}
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config file in current directory and home directory
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.pixsqueeze")
		v.AddConfigPath("/etc/pixsqueeze")
	}

	// Defaults make every key visible to AutomaticEnv
	setDefaults(v, config)

	v.SetEnvPrefix("PIXSQUEEZE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Try to read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func setDefaults(v *viper.Viper, c *Config) {
	v.SetDefault("compression.quality", c.Compression.Quality)
	v.SetDefault("compression.format", c.Compression.Format)
	v.SetDefault("compression.corner_radius", c.Compression.CornerRadius)
	v.SetDefault("compression.background", c.Compression.Background)
	v.SetDefault("compression.accelerate", c.Compression.Accelerate)

	v.SetDefault("limits.max_file_size_mb", c.Limits.MaxFileSizeMB)
	v.SetDefault("limits.max_heic_size_mb", c.Limits.MaxHEICSizeMB)
	v.SetDefault("limits.warn_file_size_mb", c.Limits.WarnFileSizeMB)
	v.SetDefault("limits.max_batch_size_mb", c.Limits.MaxBatchSizeMB)
	v.SetDefault("limits.max_dimension", c.Limits.MaxDimension)
	v.SetDefault("limits.max_accelerated_dimension", c.Limits.MaxAcceleratedDimension)
	v.SetDefault("limits.heic_probe_timeout", c.Limits.HEICProbeTimeout)

	v.SetDefault("heic.enabled", c.HEIC.Enabled)
	v.SetDefault("heic.cache_size", c.HEIC.CacheSize)
	v.SetDefault("heic.compress_quality", c.HEIC.CompressQuality)
	v.SetDefault("heic.preview_quality", c.HEIC.PreviewQuality)

	v.SetDefault("memory.floor_mb", c.Memory.FloorMB)
	v.SetDefault("memory.force_gc", c.Memory.ForceGC)

	v.SetDefault("output.directory", c.Output.Directory)
	v.SetDefault("output.overwrite", c.Output.Overwrite)
	v.SetDefault("output.stamp_metadata", c.Output.StampMetadata)

	v.SetDefault("server.host", c.Server.Host)
	v.SetDefault("server.port", c.Server.Port)
	v.SetDefault("server.preview_size", c.Server.PreviewSize)
	v.SetDefault("server.max_upload_mb", c.Server.MaxUploadMB)

	v.SetDefault("watch.directory", c.Watch.Directory)
	v.SetDefault("watch.debounce", c.Watch.Debounce)
	v.SetDefault("watch.recursive", c.Watch.Recursive)

	v.SetDefault("logging.level", c.Logging.Level)
	v.SetDefault("logging.file_path", c.Logging.FilePath)
	v.SetDefault("logging.max_size", c.Logging.MaxSize)
	v.SetDefault("logging.max_backups", c.Logging.MaxBackups)
	v.SetDefault("logging.max_age", c.Logging.MaxAge)
	v.SetDefault("logging.compress", c.Logging.Compress)
	v.SetDefault("logging.console", c.Logging.Console)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Compression.Quality < 1 || c.Compression.Quality > 100 {
		return fmt.Errorf("compression.quality must be between 1 and 100, got %d", c.Compression.Quality)
	}

	validFormats := map[string]bool{}
	for _, f := range media.Formats() {
		validFormats[string(f)] = true
	}
	c.Compression.Format = strings.ToLower(strings.TrimSpace(c.Compression.Format))
	if c.Compression.Format == "jpg" {
		c.Compression.Format = string(media.FormatJPEG)
	}
	if !validFormats[c.Compression.Format] {
		return fmt.Errorf("invalid compression.format: %s (valid: auto, jpeg, png, webp, avif)", c.Compression.Format)
	}

	if _, err := media.ParseCornerRadius(c.Compression.CornerRadius); err != nil {
		return fmt.Errorf("invalid compression.corner_radius: %w", err)
	}

	c.Compression.Background = strings.ToLower(c.Compression.Background)
	if c.Compression.Background != string(media.BackgroundWhite) && c.Compression.Background != string(media.BackgroundBlack) {
		return fmt.Errorf("invalid compression.background: %s (valid: white, black)", c.Compression.Background)
	}

	// Validate limits
	if c.Limits.MaxFileSizeMB <= 0 || c.Limits.MaxHEICSizeMB <= 0 || c.Limits.MaxBatchSizeMB <= 0 {
		return fmt.Errorf("size limits must be positive")
	}
	if c.Limits.WarnFileSizeMB <= 0 {
		c.Limits.WarnFileSizeMB = c.Limits.MaxFileSizeMB
	}
	if c.Limits.MaxDimension <= 0 {
		c.Limits.MaxDimension = compressor.DefaultLimits().MaxDimension
	}
	if c.Limits.MaxAcceleratedDimension < c.Limits.MaxDimension {
		c.Limits.MaxAcceleratedDimension = c.Limits.MaxDimension
	}
	if c.Limits.HEICProbeTimeout <= 0 {
		c.Limits.HEICProbeTimeout = compressor.DefaultLimits().HEICProbeTimeout
	}

	// Validate HEIC settings
	if c.HEIC.CacheSize <= 0 {
		c.HEIC.CacheSize = heic.DefaultCapacity
	}
	if !validUnit(c.HEIC.CompressQuality) || !validUnit(c.HEIC.PreviewQuality) {
		return fmt.Errorf("heic qualities must be in (0, 1]")
	}

	if c.Memory.FloorMB < 0 {
		return fmt.Errorf("memory.floor_mb must not be negative")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d", c.Server.Port)
	}
	if c.Server.PreviewSize <= 0 {
		c.Server.PreviewSize = 512
	}
	if c.Server.MaxUploadMB <= 0 {
		c.Server.MaxUploadMB = c.Limits.MaxBatchSizeMB + uploadOverheadMB
	}

	if c.Watch.Debounce <= 0 {
		c.Watch.Debounce = 500 * time.Millisecond
	}
	if c.Watch.Directory != "" && !isValidPath(c.Watch.Directory) {
		return fmt.Errorf("watch.directory does not exist or is not accessible: %s", c.Watch.Directory)
	}

	// Validate logging settings
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	return nil
}

// Request builds the default compression request.
func (c *Config) Request() (media.Request, error) {
	radius, err := media.ParseCornerRadius(c.Compression.CornerRadius)
	if err != nil {
		return media.Request{}, err
	}
	req := media.Request{
		Quality:      c.Compression.Quality,
		Format:       media.ParseFormat(c.Compression.Format),
		CornerRadius: radius,
		Background:   media.ParseBackground(c.Compression.Background),
		Accelerated:  c.Compression.Accelerate,
	}
	return req, req.Validate()
}

// CompressorLimits converts the configured limits for the pipeline.
func (c *Config) CompressorLimits() compressor.Limits {
	return compressor.Limits{
		MaxFileSize:             c.Limits.MaxFileSizeMB * megabyte,
		MaxHEICSize:             c.Limits.MaxHEICSizeMB * megabyte,
		WarnFileSize:            c.Limits.WarnFileSizeMB * megabyte,
		MaxBatchSize:            c.Limits.MaxBatchSizeMB * megabyte,
		MaxDimension:            c.Limits.MaxDimension,
		MaxAcceleratedDimension: c.Limits.MaxAcceleratedDimension,
		HEICProbeTimeout:        c.Limits.HEICProbeTimeout,
		HEICPreviewQuality:      c.HEIC.PreviewQuality,
		HEICCompressQuality:     c.HEIC.CompressQuality,
	}
}

// GuardConfig converts the memory section for the guard.
func (c *Config) GuardConfig() memory.Config {
	return memory.Config{
		FloorBytes: c.Memory.FloorMB * megabyte,
		ForceGC:    c.Memory.ForceGC,
	}
}

// LoggerConfig converts the logging section for the logger.
func (c *Config) LoggerConfig() logger.LoggerConfig {
	return logger.LoggerConfig(c.Logging)
}

// Address returns the host:port the web server listens on.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Helper functions

func validUnit(q float64) bool {
	return q > 0 && q <= 1
}

func isValidPath(path string) bool {
	if path == "" {
		return false
	}

	expandedPath := ExpandPath(path)
	stat, err := os.Stat(expandedPath)
	return err == nil && stat.IsDir()
}

// ExpandPath expands environment variables and a leading ~.
func ExpandPath(path string) string {
	expandedPath := os.ExpandEnv(path)
	if strings.HasPrefix(expandedPath, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return expandedPath
		}
		expandedPath = filepath.Join(home, expandedPath[1:])
	}
	return expandedPath
}
