package internal

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/rollcall/internal/registry"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Display modes for the recognition and enrollment surfaces.
const (
	DisplayWindow   = "window"
	DisplaySnapshot = "snapshot"
	DisplayNone     = "none"
)

// Engine kinds.
const (
	EngineDlib   = "dlib"
	EngineRemote = "remote"
)

// Config represents the application configuration.
type Config struct {
	App         ApplicationConfig `yaml:"app"`
	Auth        AuthConfig        `yaml:"auth"`
	Dataset     DatasetConfig     `yaml:"dataset"`
	Attendance  AttendanceConfig  `yaml:"attendance"`
	Camera      CameraConfig      `yaml:"camera"`
	Engine      EngineConfig      `yaml:"engine"`
	Recognition RecognitionConfig `yaml:"recognition"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Dataset.Validate(); err != nil {
		return fmt.Errorf("dataset: %w", err)
	}
	if err := c.Attendance.Validate(); err != nil {
		return fmt.Errorf("attendance: %w", err)
	}
	if err := c.Camera.Validate(); err != nil {
		return fmt.Errorf("camera: %w", err)
	}
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if err := c.Recognition.Validate(); err != nil {
		return fmt.Errorf("recognition: %w", err)
	}
	return nil
}

// ResolvePath joins a relative path onto the dataset root.
func (c *Config) ResolvePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Dataset.Root, p)
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// DatasetConfig locates the enrollment registry and its images.
// Registry and ImagesDir are relative to Root.
type DatasetConfig struct {
	Root         string `yaml:"root"`
	Registry     string `yaml:"registry"`
	ImagesDir    string `yaml:"images_dir"`
	DuplicateIDs string `yaml:"duplicate_ids"`
}

// Validate validates the dataset configuration.
func (c *DatasetConfig) Validate() error {
	if c.DuplicateIDs == "" {
		c.DuplicateIDs = registry.PolicyAllow
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Root, validation.Required),
		validation.Field(&c.Registry, validation.Required),
		validation.Field(&c.ImagesDir, validation.Required),
		validation.Field(&c.DuplicateIDs, validation.In(registry.PolicyAllow, registry.PolicyReject, registry.PolicyOverwrite)),
	)
}

// AttendanceConfig holds the attendance log and its SQLite index.
type AttendanceConfig struct {
	Log   string `yaml:"log"`
	Index string `yaml:"index"`
}

// Validate validates the attendance configuration.
func (c *AttendanceConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Log, validation.Required),
		validation.Field(&c.Index, validation.Required),
	)
}

// CameraConfig holds capture device and display configuration.
type CameraConfig struct {
	// Device is a camera index ("0") or a stream URL / file path.
	Device          string        `yaml:"device"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	MaxReadFailures int           `yaml:"max_read_failures"`
	Display         string        `yaml:"display"`
}

// Validate validates the camera configuration.
func (c *CameraConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Device, validation.Required),
		validation.Field(&c.ReadTimeout, validation.Min(time.Duration(0))),
		validation.Field(&c.MaxReadFailures, validation.Min(0)),
		validation.Field(&c.Display, validation.Required, validation.In(DisplayWindow, DisplaySnapshot, DisplayNone)),
	)
}

// EngineConfig selects and tunes the face engine.
type EngineConfig struct {
	Kind      string        `yaml:"kind"`
	ModelsDir string        `yaml:"models_dir"`
	URL       string        `yaml:"url"`
	Threshold float64       `yaml:"threshold"`
	Timeout   time.Duration `yaml:"timeout"`
}

// Validate validates the engine configuration.
func (c *EngineConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Kind, validation.Required, validation.In(EngineDlib, EngineRemote)),
		validation.Field(&c.ModelsDir, validation.When(c.Kind == EngineDlib, validation.Required)),
		validation.Field(&c.URL, validation.When(c.Kind == EngineRemote, validation.Required)),
		validation.Field(&c.Threshold, validation.Required, validation.Min(0.0)),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
	)
}

// RecognitionConfig tunes frame processing.
type RecognitionConfig struct {
	Scale         float64       `yaml:"scale"`
	UnknownPrefix int           `yaml:"unknown_prefix"`
	FacesThrottle time.Duration `yaml:"faces_throttle"`
}

// Validate validates the recognition configuration.
func (c *RecognitionConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Scale, validation.Required, validation.Min(0.01), validation.Max(1.0)),
		validation.Field(&c.UnknownPrefix, validation.Required, validation.Min(1)),
		validation.Field(&c.FacesThrottle, validation.Min(time.Duration(0))),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Dataset: DatasetConfig{
			Root:         ".",
			Registry:     "Dataset2.csv",
			ImagesDir:    "dataset",
			DuplicateIDs: registry.PolicyAllow,
		},
		Attendance: AttendanceConfig{
			Log:   "attendance_output.csv",
			Index: "attendance.db",
		},
		Camera: CameraConfig{
			Device:      "0",
			ReadTimeout: 2 * time.Second,
			Display:     DisplayWindow,
		},
		Engine: EngineConfig{
			Kind:      EngineDlib,
			ModelsDir: "models",
			URL:       "http://localhost:8000",
			Threshold: 0.6,
			Timeout:   10 * time.Second,
		},
		Recognition: RecognitionConfig{
			Scale:         0.25,
			UnknownPrefix: 5,
			FacesThrottle: time.Second,
		},
	}
}
