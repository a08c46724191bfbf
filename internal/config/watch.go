package config

import (
	"fmt"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watch invokes onChange with the freshly loaded configuration each time the
// file at path is written or recreated. A load failure is passed as err and
// the previous configuration should stay in effect. The watch lasts for the
// life of the process.
func Watch(path string, onChange func(cfg *GlobalConfig, err error)) error {
	if path == "" {
		return fmt.Errorf("config watch requires a file path")
	}

	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		slog.Info("config file changed", "path", e.Name, "op", e.Op.String())
		cfg, err := decode(v)
		onChange(cfg, err)
	})
	v.WatchConfig()

	return nil
}
