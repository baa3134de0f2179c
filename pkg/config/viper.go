package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Options controls where Load looks for configuration.
type Options struct {
	// Path is the directory containing the config file.
	Path string
	// Name is the config file name without extension.
	Name string
	// EnvFiles are dotenv files loaded into the process environment before
	// viper reads it. Missing files are ignored.
	EnvFiles []string
	// Flags, when set, are bound into viper. A flag named "device-id" binds
	// to the key "device.id".
	Flags *pflag.FlagSet
}

// Load reads configuration from file, dotenv files, environment variables
// and command-line flags, in increasing order of precedence.
func Load(opts Options) (*viper.Viper, error) {
	if opts.Path == "" {
		opts.Path = "./config"
	}
	if opts.Name == "" {
		opts.Name = "config"
	}
	if len(opts.EnvFiles) == 0 {
		opts.EnvFiles = []string{".env"}
	}

	if err := loadEnvFiles(opts.EnvFiles); err != nil {
		return nil, err
	}

	v := viper.New()

	v.SetConfigName(opts.Name)
	v.SetConfigType("yaml")
	v.AddConfigPath(opts.Path)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if opts.Flags != nil {
		var bindErr error
		opts.Flags.VisitAll(func(f *pflag.Flag) {
			if bindErr != nil {
				return
			}
			bindErr = v.BindPFlag(FlagKey(f.Name), f)
		})
		if bindErr != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", bindErr)
		}
	}

	return v, nil
}

// FlagKey maps a flag name onto its viper key: the first dash separates the
// section from the key, the remaining dashes become underscores.
// "relay-url" → "relay.url", "capture-max-width" → "capture.max_width".
func FlagKey(name string) string {
	section, rest, ok := strings.Cut(name, "-")
	if !ok {
		return name
	}
	return section + "." + strings.ReplaceAll(rest, "-", "_")
}

func loadEnvFiles(paths []string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}
