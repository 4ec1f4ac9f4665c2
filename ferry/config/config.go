// Package config loads operator settings from ferry.yaml, FERRY_* environment
// variables and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	FileName  = "ferry"
	EnvPrefix = "FERRY"
)

type Settings struct {
	Server    ServerSettings    `mapstructure:"server"`
	Provision ProvisionSettings `mapstructure:"provision"`
	Deploy    DeploySettings    `mapstructure:"deploy"`
	Log       LogSettings       `mapstructure:"log"`
}

// ServerSettings configures `ferry serve`.
type ServerSettings struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
	Message         string        `mapstructure:"message" validate:"required"`
	Version         string        `mapstructure:"version" validate:"required"`
	MetricsAddr     string        `mapstructure:"metrics_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// Addr is the listen address of the public listener.
func (s ServerSettings) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ProvisionSettings are the externally supplied declaration variables.
type ProvisionSettings struct {
	Region       string `mapstructure:"region" validate:"required"`
	InstanceType string `mapstructure:"instance_type" validate:"required"`
	KeyName      string `mapstructure:"key_name" validate:"required"`
	Declaration  string `mapstructure:"declaration"`
}

// Vars returns the settings as declaration variables.
func (p ProvisionSettings) Vars() map[string]string {
	return map[string]string{
		"region":        p.Region,
		"instance_type": p.InstanceType,
		"key_name":      p.KeyName,
	}
}

// DeploySettings are the defaults for `ferry deploy` flags.
type DeploySettings struct {
	Image        string   `mapstructure:"image"`
	User         string   `mapstructure:"user"`
	IdentityFile string   `mapstructure:"identity_file"`
	KnownHosts   string   `mapstructure:"known_hosts"`
	Platforms    []string `mapstructure:"platforms"`
}

type LogSettings struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

// New returns a viper instance reading ferry.yaml from dir, with defaults
// and environment binding in place. Callers may bind flags before Load.
func New(dir string) *viper.Viper {
	v := viper.New()
	v.SetConfigName(FileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.message", "My application")
	v.SetDefault("server.version", Version)
	v.SetDefault("server.metrics_addr", "")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("provision.region", "")
	v.SetDefault("provision.instance_type", "t3.micro")
	v.SetDefault("provision.key_name", "")
	v.SetDefault("provision.declaration", filepath.Join(dir, "stack.ferry.hcl"))

	v.SetDefault("deploy.image", "")
	v.SetDefault("deploy.user", "ubuntu")
	v.SetDefault("deploy.identity_file", "~/.ssh/id_ed25519")
	v.SetDefault("deploy.known_hosts", "")
	v.SetDefault("deploy.platforms", []string{"linux/amd64", "linux/arm64"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	return v
}

// Load reads the optional .env and ferry.yaml next to the viper config path
// and decodes the result. A missing file is not an error.
func Load(v *viper.Viper, dir string) (*Settings, error) {
	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &s, nil
}

var validate = NewValidator()

// NewValidator returns a validator that reports fields by their config key,
// taken from the mapstructure or hcl struct tag.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(fieldKey)
	return v
}

func fieldKey(f reflect.StructField) string {
	for _, key := range []string{"mapstructure", "hcl"} {
		name, _, _ := strings.Cut(f.Tag.Get(key), ",")
		switch name {
		case "":
			continue
		case "-":
			return ""
		default:
			return name
		}
	}
	return strings.ToLower(f.Name)
}

// ValidateServer checks the settings used by `ferry serve`.
func (s *Settings) ValidateServer() error {
	if err := check("server", s.Server); err != nil {
		return err
	}
	return check("log", s.Log)
}

// ValidateProvision checks the settings used by `ferry provision`.
func (s *Settings) ValidateProvision() error {
	return check("provision", s.Provision)
}

func check(section string, v any) error {
	return Describe(section, validate.Struct(v))
}

// Describe turns validator errors into one readable error. Other errors are
// returned unchanged.
func Describe(section string, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, section+"."+msgForTag(fe))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

func msgForTag(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", field, fe.Param(), fe.Value())
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
