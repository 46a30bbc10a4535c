package build

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tailscale/hujson"
)

var (
	errConfigFileNotFound = errors.New("config file not found")
	errConfigFileRead     = errors.New("cannot read config file")
	errConfigInvalid      = errors.New("invalid config file")
	errIDRequired         = errors.New("build identifier is required")
	errCapacityInvalid    = errors.New("capacity must be positive")
	errOutDirNameEmpty    = errors.New("out_dir_name cannot be empty")
)

// Config holds one run's configuration. ID and PrevID identify the build
// lineage; everything else shapes paths and filter construction.
type Config struct {
	// From flags only (never serialized)
	ID        string `json:"-"`
	PrevID    string `json:"-"`
	CacheKeys bool   `json:"-"`
	NoVerify  bool   `json:"-"`

	// From config file and/or flags
	CertPath    string   `json:"cert_path"`
	OutDirName  string   `json:"out_dir_name"`
	KnownPath   string   `json:"known_path,omitempty"`
	RevokedPath string   `json:"revoked_path,omitempty"`
	Capacity    float64  `json:"capacity,omitempty"`
	ExcludeAKI  []string `json:"exclude_aki,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		CertPath:   "/ct/processing",
		OutDirName: "mlbf",
		Capacity:   1.1,
	}
}

// ConfigFileName is the default project config file name.
const ConfigFileName = ".crlite.json"

// LoadConfig returns the defaults merged with the project config file.
//
// With an empty configPath the default project file under workDir is used
// and may be missing; an explicit configPath must exist. The returned path
// names the file actually loaded, empty if none was.
func LoadConfig(workDir, configPath string) (Config, string, error) {
	cfg := DefaultConfig()

	cfgFile := configPath
	mustExist := configPath != ""

	if cfgFile == "" {
		cfgFile = filepath.Join(workDir, ConfigFileName)
	} else if !filepath.IsAbs(cfgFile) {
		cfgFile = filepath.Join(workDir, cfgFile)
	}

	data, err := os.ReadFile(cfgFile)
	if err != nil {
		if !os.IsNotExist(err) {
			return Config{}, "", fmt.Errorf("%w %s: %w", errConfigFileRead, cfgFile, err)
		}

		if !mustExist {
			return cfg, "", nil
		}

		return Config{}, "", fmt.Errorf("%w: %s", errConfigFileNotFound, cfgFile)
	}

	fileCfg, err := parseConfig(data)
	if err != nil {
		return Config{}, "", fmt.Errorf("%w %s: %w", errConfigInvalid, cfgFile, err)
	}

	return mergeConfig(cfg, fileCfg), cfgFile, nil
}

func parseConfig(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(standardized))
	dec.DisallowUnknownFields()

	var cfg Config

	err = dec.Decode(&cfg)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}

	return cfg, nil
}

func mergeConfig(base, overlay Config) Config {
	if overlay.CertPath != "" {
		base.CertPath = overlay.CertPath
	}

	if overlay.OutDirName != "" {
		base.OutDirName = overlay.OutDirName
	}

	if overlay.KnownPath != "" {
		base.KnownPath = overlay.KnownPath
	}

	if overlay.RevokedPath != "" {
		base.RevokedPath = overlay.RevokedPath
	}

	if overlay.Capacity != 0 {
		base.Capacity = overlay.Capacity
	}

	if len(overlay.ExcludeAKI) > 0 {
		base.ExcludeAKI = overlay.ExcludeAKI
	}

	return base
}

// Validate checks a fully merged configuration.
func (c Config) Validate() error {
	if c.ID == "" {
		return errIDRequired
	}

	if c.Capacity <= 0 {
		return errCapacityInvalid
	}

	if c.OutDirName == "" {
		return errOutDirNameEmpty
	}

	return nil
}

// excludeSet converts the excluded-issuer list into a lookup map.
func (c Config) excludeSet() map[string]bool {
	if len(c.ExcludeAKI) == 0 {
		return nil
	}

	set := make(map[string]bool, len(c.ExcludeAKI))
	for _, aki := range c.ExcludeAKI {
		set[aki] = true
	}

	return set
}
