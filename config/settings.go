package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/bnema/tikrec/internal/domain"
)

const (
	bytesPerMB = 1024 * 1024

	// MaxStorageLimitMB is the largest limit whose byte count fits in an int64.
	MaxStorageLimitMB = math.MaxInt64 / bytesPerMB
)

type AudioQuality string

const (
	AudioLow    AudioQuality = "low"
	AudioMedium AudioQuality = "medium"
	AudioHigh   AudioQuality = "high"
)

// Settings is the user-editable settings object. Only DownloadPath,
// ParallelDownloads, StorageLimit and AutoCleanup reach the engine; the
// defaults fill in omitted request fields.
type Settings struct {
	DownloadPath      string         `json:"downloadPath"`
	DefaultQuality    domain.Quality `json:"defaultQuality"`
	DefaultDuration   int            `json:"defaultDuration"`
	ParallelDownloads int            `json:"parallelDownloads"`
	StorageLimit      int64          `json:"storageLimit"` // MB
	AutoCleanup       bool           `json:"autoCleanup"`
	AudioQuality      AudioQuality   `json:"audioQuality"`
	AutoStart         bool           `json:"autoStart"`
	Notifications     bool           `json:"notifications"`
}

// DefaultSettings seeds the settings from the process config.
func DefaultSettings(cfg *Config) Settings {
	return Settings{
		DownloadPath:      cfg.DownloadPath,
		DefaultQuality:    domain.Quality1080p,
		DefaultDuration:   30,
		ParallelDownloads: cfg.ParallelDownloads,
		StorageLimit:      cfg.StorageLimitMB,
		AutoCleanup:       cfg.AutoCleanup,
		AudioQuality:      AudioHigh,
		Notifications:     true,
	}
}

func (s Settings) Validate() error {
	if !s.DefaultQuality.Valid() {
		return fmt.Errorf("%w: unknown default quality %q", domain.ErrInvalidConfig, s.DefaultQuality)
	}
	if s.DefaultDuration < domain.MinDuration || s.DefaultDuration > domain.MaxDuration {
		return fmt.Errorf("%w: default duration %d outside [%d,%d]", domain.ErrInvalidConfig, s.DefaultDuration, domain.MinDuration, domain.MaxDuration)
	}
	switch s.AudioQuality {
	case AudioLow, AudioMedium, AudioHigh:
	default:
		return fmt.Errorf("%w: unknown audio quality %q", domain.ErrInvalidConfig, s.AudioQuality)
	}
	if s.StorageLimit > MaxStorageLimitMB {
		return fmt.Errorf("%w: storage limit %d MB exceeds %d MB", domain.ErrInvalidConfig, s.StorageLimit, int64(MaxStorageLimitMB))
	}
	return s.EngineConfig().Validate()
}

func (s Settings) EngineConfig() domain.EngineConfig {
	return domain.EngineConfig{
		DownloadPath:      s.DownloadPath,
		MaxConcurrentJobs: s.ParallelDownloads,
		StorageLimitBytes: s.StorageLimit * bytesPerMB,
		AutoCleanup:       s.AutoCleanup,
	}
}

// DecodeSettings reads a complete settings object. Unknown keys and trailing
// data are rejected.
func DecodeSettings(r io.Reader) (Settings, error) {
	var s Settings
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return Settings{}, fmt.Errorf("%w: %w", domain.ErrInvalidConfig, err)
	}
	if dec.More() {
		return Settings{}, fmt.Errorf("%w: trailing data after settings object", domain.ErrInvalidConfig)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// LoadSettings reads path, falling back to defaults when the file does not exist.
func LoadSettings(path string, defaults Settings) (Settings, error) {
	if path == "" {
		return defaults, defaults.Validate()
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return defaults, defaults.Validate()
	}
	if err != nil {
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}
	return DecodeSettings(bytes.NewReader(data))
}

func (s Settings) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// SettingsStore holds the current settings and persists replacements when a
// file is configured.
type SettingsStore struct {
	mu      sync.RWMutex
	path    string
	current Settings
}

func NewSettingsStore(path string, initial Settings) *SettingsStore {
	return &SettingsStore{path: path, current: initial}
}

func (st *SettingsStore) Get() Settings {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.current
}

// Replace validates s, hands its engine config to apply and persists it.
// The stored settings only change once both succeed.
func (st *SettingsStore) Replace(s Settings, apply func(domain.EngineConfig) error) error {
	if err := s.Validate(); err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if apply != nil {
		if err := apply(s.EngineConfig()); err != nil {
			return err
		}
	}
	if st.path != "" {
		if err := s.Save(st.path); err != nil {
			return err
		}
	}
	st.current = s
	return nil
}
