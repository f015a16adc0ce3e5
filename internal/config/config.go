// Package config loads the optional statline configuration file, which
// supplies defaults the command line can override.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config holds the file-supplied settings.
type Config struct {
	Barlib     string
	BarlibOpts []string
	LogLevel   string
	PluginsDir string
	BarlibsDir string
	LuaDir     string
}

// Load reads the configuration. With an explicit path the file must exist
// and parse; with an empty path the well-known locations are searched and
// a missing file is not an error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetDefault("barlib", "")
	v.SetDefault("barlib_opts", []string{})
	v.SetDefault("loglevel", "info")
	v.SetDefault("plugins_dir", "")
	v.SetDefault("barlibs_dir", "")
	v.SetDefault("lua_dir", "")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config '%s': %w", path, err)
		}
	} else {
		v.SetConfigName("statline")
		v.SetConfigType("toml")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "statline"))
		}
		v.AddConfigPath("/etc/statline")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	return Config{
		Barlib:     v.GetString("barlib"),
		BarlibOpts: v.GetStringSlice("barlib_opts"),
		LogLevel:   v.GetString("loglevel"),
		PluginsDir: v.GetString("plugins_dir"),
		BarlibsDir: v.GetString("barlibs_dir"),
		LuaDir:     v.GetString("lua_dir"),
	}, nil
}
