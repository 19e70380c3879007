package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads KEY=value pairs from the .env file at path into the
// process environment. Variables that are already set win over the file.
// A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Debug("config: no .env file, using process environment", "path", path)
			return nil
		}
		return fmt.Errorf("config: load %q: %w", path, err)
	}
	slog.Info("config: .env loaded", "path", path)
	return nil
}
