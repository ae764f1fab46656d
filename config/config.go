package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type CheckpointKind string

const (
	CheckpointSQLite CheckpointKind = "sqlite"
	CheckpointJSON   CheckpointKind = "json"
	CheckpointNone   CheckpointKind = "none"
)

type Config struct {
	Port               int
	DataDir            string
	DownloadPath       string
	ParallelDownloads  int
	StorageLimitMB     int64
	AutoCleanup        bool
	Checkpoint         CheckpointKind
	CheckpointInterval time.Duration
	SettingsFile       string
	APITokenHash       string
	YtdlpPath          string
	FFmpegPath         string
	EventBuffer        int
	BehindProxy        bool
	Debug              bool
}

func Load() (*Config, error) {
	port, err := strconv.Atoi(getEnv("PORT", "7890"))
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}

	parallel, err := strconv.Atoi(getEnv("PARALLEL_DOWNLOADS", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid PARALLEL_DOWNLOADS: %w", err)
	}

	storageLimitMB, err := strconv.ParseInt(getEnv("STORAGE_LIMIT_MB", "5000"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid STORAGE_LIMIT_MB: %w", err)
	}
	if storageLimitMB > MaxStorageLimitMB {
		return nil, fmt.Errorf("invalid STORAGE_LIMIT_MB: %d exceeds %d", storageLimitMB, int64(MaxStorageLimitMB))
	}

	autoCleanup, err := strconv.ParseBool(getEnv("AUTO_CLEANUP", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid AUTO_CLEANUP: %w", err)
	}

	interval, err := time.ParseDuration(getEnv("CHECKPOINT_INTERVAL", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid CHECKPOINT_INTERVAL: %w", err)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("invalid CHECKPOINT_INTERVAL: must be positive")
	}

	eventBuffer, err := strconv.Atoi(getEnv("EVENT_BUFFER", "64"))
	if err != nil {
		return nil, fmt.Errorf("invalid EVENT_BUFFER: %w", err)
	}

	behindProxy, err := strconv.ParseBool(getEnv("BEHIND_PROXY", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid BEHIND_PROXY: %w", err)
	}

	checkpoint := CheckpointKind(strings.ToLower(getEnv("CHECKPOINT", string(CheckpointSQLite))))
	switch checkpoint {
	case CheckpointSQLite, CheckpointJSON, CheckpointNone:
	default:
		return nil, fmt.Errorf("invalid CHECKPOINT %q: want sqlite, json or none", checkpoint)
	}

	dataDir := getEnv("DATA_DIR", "/data")

	return &Config{
		Port:               port,
		DataDir:            dataDir,
		DownloadPath:       getEnv("DOWNLOAD_PATH", filepath.Join(dataDir, "recordings")),
		ParallelDownloads:  parallel,
		StorageLimitMB:     storageLimitMB,
		AutoCleanup:        autoCleanup,
		Checkpoint:         checkpoint,
		CheckpointInterval: interval,
		SettingsFile:       os.Getenv("SETTINGS_FILE"),
		APITokenHash:       os.Getenv("API_TOKEN_HASH"),
		YtdlpPath:          getEnv("YTDLP_PATH", "yt-dlp"),
		FFmpegPath:         getEnv("FFMPEG_PATH", "ffmpeg"),
		EventBuffer:        eventBuffer,
		BehindProxy:        behindProxy,
		Debug:              strings.EqualFold(os.Getenv("LOG_LEVEL"), "debug"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
