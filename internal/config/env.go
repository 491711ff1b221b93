package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/joho/godotenv"
)

// EnvSelector names the variable that picks an environment-specific
// dotenv overlay (.env.<value>).
const EnvSelector = "BUTLER_ENV"

// LoadDotenv loads .env from dir, then .env.<BUTLER_ENV> on top of it.
// Values from the files override the process environment. Missing files
// are not an error.
func LoadDotenv(dir string) error {
	files := []string{filepath.Join(dir, ".env")}
	if env := os.Getenv(EnvSelector); env != "" {
		files = append(files, filepath.Join(dir, ".env."+env))
	}

	for _, f := range files {
		if err := godotenv.Overload(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

var placeholder = regexp.MustCompile(`\$\{([A-Za-z0-9_]+)(?::([^}]*))?\}`)

// ExpandEnv replaces ${VAR} and ${VAR:default} placeholders. An unset
// variable without a default expands to the empty string.
func ExpandEnv(s string) string {
	return placeholder.ReplaceAllStringFunc(s, func(m string) string {
		sub := placeholder.FindStringSubmatch(m)
		if v, ok := os.LookupEnv(sub[1]); ok {
			return v
		}
		return sub[2]
	})
}

// MissingEnv returns the names in vars that are unset or empty.
func MissingEnv(vars []string) []string {
	var missing []string
	for _, v := range vars {
		if os.Getenv(v) == "" {
			missing = append(missing, v)
		}
	}
	return missing
}
