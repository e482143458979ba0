package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Profile names a preset for one of the supported demo backends.
type Profile string

const (
	ProfileShared  Profile = "shared"
	ProfileOpenBIS Profile = "openbis"
	ProfileAiiDA   Profile = "aiida"
)

// Group fields a record set can be filtered by.
const (
	GroupByType     = "type"
	GroupByOntology = "ontology"
)

// Config holds runtime configuration for the UI service.
type Config struct {
	ListenAddr      string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	LogLevel        string

	Profile        Profile
	BackendURL     string
	BackendTimeout time.Duration

	PlatformURLTemplate string
	PlatformTimeout     time.Duration
	MaxArchiveBytes     int64
	MaxUploadBytes      int64

	SessionTTL   time.Duration
	SessionLimit int

	Variant Variant
}

// Variant captures the differences between the demo front-ends: which record
// field the type filter groups by, the "All" sentinel value, endpoint paths and
// the optional feature sections.
type Variant struct {
	GroupField       string
	AllSentinel      string
	SimulationPath   string
	ExportPath       string
	ObjectExportPath string
	// PlatformPort is where platforms listed by name only are reached.
	PlatformPort string

	Simulation bool
	Crates     bool
	Export     bool
	Upload     bool
}

// VariantFor returns the preset for a profile.
func VariantFor(p Profile) (Variant, error) {
	switch p {
	case ProfileShared, "":
		return Variant{
			GroupField:       GroupByType,
			AllSentinel:      "",
			SimulationPath:   "/data/run_simulation",
			ExportPath:       "/data/export",
			ObjectExportPath: "/api/export",
			Simulation:       true,
			Crates:           true,
			Export:           true,
			Upload:           true,
		}, nil
	case ProfileOpenBIS:
		return Variant{
			GroupField:   GroupByOntology,
			AllSentinel:  "all",
			ExportPath:   "/data/export",
			PlatformPort: "5002",
			Upload:       true,
		}, nil
	case ProfileAiiDA:
		return Variant{
			GroupField:       GroupByType,
			AllSentinel:      "",
			SimulationPath:   "/data/start_simulation",
			ExportPath:       "/data/export",
			ObjectExportPath: "/api/export",
			Simulation:       true,
			Crates:           true,
			Export:           true,
			Upload:           true,
		}, nil
	default:
		return Variant{}, fmt.Errorf("unknown profile %q (expected shared, openbis or aiida)", p)
	}
}

// FromEnv loads configuration from environment variables with sensible defaults.
func FromEnv() (Config, error) {
	loadConfigDefaultsFromFile()

	cfg := Config{
		ListenAddr:          getEnv("APP_LISTEN_ADDR", ":8080"),
		ReadTimeout:         time.Duration(getEnvInt("APP_READ_TIMEOUT_SEC", 10)) * time.Second,
		WriteTimeout:        time.Duration(getEnvInt("APP_WRITE_TIMEOUT_SEC", 30)) * time.Second,
		ShutdownTimeout:     time.Duration(getEnvInt("APP_SHUTDOWN_TIMEOUT_SEC", 10)) * time.Second,
		LogLevel:            getEnv("APP_LOG_LEVEL", "info"),
		Profile:             Profile(strings.ToLower(getEnv("APP_PROFILE", string(ProfileShared)))),
		BackendURL:          getEnv("APP_BACKEND_URL", "http://127.0.0.1:5001"),
		BackendTimeout:      time.Duration(getEnvInt("APP_BACKEND_TIMEOUT_SEC", 10)) * time.Second,
		PlatformURLTemplate: getEnv("APP_PLATFORM_URL_TEMPLATE", "http://localhost:%s"),
		PlatformTimeout:     time.Duration(getEnvInt("APP_PLATFORM_TIMEOUT_SEC", 15)) * time.Second,
		MaxArchiveBytes:     int64(getEnvInt("APP_MAX_ARCHIVE_MB", 32)) << 20,
		MaxUploadBytes:      int64(getEnvInt("APP_MAX_UPLOAD_MB", 16)) << 20,
		SessionTTL:          time.Duration(getEnvInt("APP_SESSION_TTL_MIN", 60)) * time.Minute,
		SessionLimit:        getEnvInt("APP_SESSION_LIMIT", 256),
	}
	if err := cfg.ApplyProfile(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyProfile resolves cfg.Profile into cfg.Variant and then applies the
// per-key env overrides on top of the preset.
func (c *Config) ApplyProfile() error {
	v, err := VariantFor(c.Profile)
	if err != nil {
		return err
	}
	if field := strings.ToLower(strings.TrimSpace(os.Getenv("APP_GROUP_FIELD"))); field != "" {
		if field != GroupByType && field != GroupByOntology {
			return fmt.Errorf("APP_GROUP_FIELD must be %q or %q, got %q", GroupByType, GroupByOntology, field)
		}
		v.GroupField = field
	}
	v.SimulationPath = getEnv("APP_SIMULATION_PATH", v.SimulationPath)
	v.ExportPath = getEnv("APP_EXPORT_PATH", v.ExportPath)
	v.PlatformPort = getEnv("APP_PLATFORM_PORT", v.PlatformPort)
	c.Variant = v
	return nil
}

func loadConfigDefaultsFromFile() {
	candidates := []string{"./rdm-bridge-ui.env"}
	if explicit := strings.TrimSpace(os.Getenv("APP_CONFIG_FILE")); explicit != "" {
		candidates = append(candidates, explicit)
	}
	candidates = append(candidates, "/etc/rdm-bridge-ui/config.env")

	for _, candidate := range candidates {
		abs := candidate
		if !filepath.IsAbs(candidate) {
			if wd, err := os.Getwd(); err == nil {
				abs = filepath.Join(wd, candidate)
			}
		}
		if _, err := os.Stat(abs); err != nil {
			continue
		}
		// Load never overrides variables that are already set.
		_ = godotenv.Load(abs)
	}
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return parsed
}
