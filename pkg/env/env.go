package env

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
)

func lookup(envName string) (string, error) {
	if len(envName) == 0 {
		return "", errors.New("environment variable name should not be empty")
	}

	retValue := strings.TrimSpace(os.Getenv(envName))
	if len(retValue) == 0 {
		return "", errors.New("environment variable '" + envName + "' has an empty value")
	}

	return retValue, nil
}

func GetEnvString(envName string) (string, error) {
	return lookup(envName)
}

// GetEnvStringOrDefault returns the env value or a default if not set
func GetEnvStringOrDefault(envName, defaultValue string) string {
	v, err := lookup(envName)
	if err != nil {
		return defaultValue
	}
	return v
}

func GetEnvBool(envName string) (bool, error) {
	envValue, err := lookup(envName)
	if err != nil {
		return false, err
	}

	return strconv.ParseBool(envValue)
}

// GetEnvBoolOrDefault returns the env value or a default if not set
func GetEnvBoolOrDefault(envName string, defaultValue bool) bool {
	v, err := GetEnvBool(envName)
	if err != nil {
		return defaultValue
	}
	return v
}

func GetEnvInt(envName string) (int, error) {
	envValue, err := lookup(envName)
	if err != nil {
		return 0, err
	}

	retValue, err := strconv.ParseInt(envValue, 0, 0)
	if err != nil {
		return 0, err
	}

	return int(retValue), nil
}

// GetEnvIntOrDefault returns the env value or a default if not set
func GetEnvIntOrDefault(envName string, defaultValue int) int {
	v, err := GetEnvInt(envName)
	if err != nil {
		return defaultValue
	}
	return v
}

// GetEnvDurationOrDefault returns the env value as duration or a default if not set
func GetEnvDurationOrDefault(envName string, defaultValue time.Duration) time.Duration {
	v, err := lookup(envName)
	if err != nil {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultValue
	}
	return d
}
