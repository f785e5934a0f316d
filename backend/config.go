package backend

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Config is an environment-like set of key/value pairs. A key that is present
// with an empty value is distinct from a key that is absent.
type Config map[string]string

// Lookup returns the value for key and whether it was present.
func (c Config) Lookup(key string) (string, bool) {
	v, ok := c[key]
	return v, ok
}

// Get returns the value for key, or "" when absent.
func (c Config) Get(key string) string { return c[key] }

// FromEnviron builds a Config from the process environment.
func FromEnviron() Config {
	return FromPairs(os.Environ())
}

// FromPairs builds a Config from KEY=VALUE strings. Entries without an "="
// are ignored.
func FromPairs(pairs []string) Config {
	cfg := make(Config, len(pairs))
	for _, kv := range pairs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		cfg[k] = v
	}
	return cfg
}

// LoadEnvFile loads variables from the named .env files into the process
// environment. Variables already set in the environment win. A missing file
// is not an error.
func LoadEnvFile(filenames ...string) error {
	if len(filenames) == 0 {
		filenames = []string{".env"}
	}
	var present []string
	for _, fn := range filenames {
		if _, err := os.Stat(fn); err == nil {
			present = append(present, fn)
		}
	}
	if len(present) == 0 {
		return nil
	}
	return godotenv.Load(present...)
}

// ReadEnvFile parses a .env file into a Config without touching the process
// environment.
func ReadEnvFile(filename string) (Config, error) {
	m, err := godotenv.Read(filename)
	if err != nil {
		return nil, err
	}
	return Config(m), nil
}
