package secrets

import (
	"fmt"
	"os"
	"strings"
)

// Source reports where a secret value came from
type Source string

const (
	SourceFile    Source = "file"
	SourceEnv     Source = "env"
	SourceDefault Source = "default"
)

// Lookup resolves a secret. KEY_FILE (docker secrets) wins over KEY, which
// wins over the default.
func Lookup(envKey, defaultValue string) (string, Source, error) {
	if filePath := os.Getenv(envKey + "_FILE"); filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return "", SourceFile, fmt.Errorf("read secret file %s: %w", filePath, err)
		}
		return strings.TrimSpace(string(data)), SourceFile, nil
	}

	if value := os.Getenv(envKey); value != "" {
		return value, SourceEnv, nil
	}

	return defaultValue, SourceDefault, nil
}

// GetSecret retrieves a secret value, supporting both direct env vars and file-based secrets
func GetSecret(envKey string, defaultValue string) (string, error) {
	value, _, err := Lookup(envKey, defaultValue)
	return value, err
}

// MustGetSecret retrieves a secret and panics if not found
func MustGetSecret(envKey string) string {
	value, err := GetSecret(envKey, "")
	if err != nil {
		panic(fmt.Sprintf("failed to load secret %s: %v", envKey, err))
	}
	if value == "" {
		panic(fmt.Sprintf("secret %s is required but not set", envKey))
	}
	return value
}

// GetOptionalSecret retrieves a secret with a default value, never fails
func GetOptionalSecret(envKey string, defaultValue string) string {
	value, err := GetSecret(envKey, defaultValue)
	if err != nil {
		return defaultValue
	}
	return value
}

// Mask hides all but the last four characters, for logging tokens
func Mask(value string) string {
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	return strings.Repeat("*", len(value)-4) + value[len(value)-4:]
}
