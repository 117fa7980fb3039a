// Package ttsutils provides path, key and formatting helpers for the gateway.
package ttsutils

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Environment variable names used for path resolution.
const (
	envCacheDir = "CACHE_DIR"
)

// Common application directory and path constants.
const (
	appName                = "tts-gateway"
	cacheDirName           = "cache"
	modelsDirName          = "models"
	tmpDir                 = "/tmp"
	dotCache               = ".cache"
	invalidCharReplacement = "_"
)

// Data size constants.
const (
	byteUnit = 1
	kilobyte = byteUnit * 1024
	megabyte = kilobyte * 1024
	gigabyte = megabyte * 1024
)

// Size formatting constants.
const (
	formatGB    = "%.1f GB"
	formatMB    = "%.1f MB"
	formatKB    = "%.1f KB"
	formatBytes = "%d B"
)

// Error message and format string constants.
const (
	errFmtCouldNotResolveAbsolutePath = "could not resolve absolute path for %q: %w"
	errFmtErrorCheckingModelPath      = "error checking model path %q: %w"
	errFmtModelNotFound               = "%w: %s"
)

// ErrModelNotFound is returned when a model file cannot be located.
var ErrModelNotFound = errors.New("model not found")

// GetCacheDir returns the application's cache directory, honouring CACHE_DIR.
func GetCacheDir() string {
	if cacheDir := os.Getenv(envCacheDir); cacheDir != "" {
		return cacheDir
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(tmpDir, appName, cacheDirName)
	}

	return filepath.Join(homeDir, dotCache, appName)
}

// resolveSinglePath returns the absolute path and true when path exists. A
// stat error other than "not found" is returned as an error.
func resolveSinglePath(candidate string) (string, bool, error) {
	_, statErr := os.Stat(candidate)
	if statErr == nil {
		absPath, errAbs := filepath.Abs(candidate)
		if errAbs != nil {
			return "", false, fmt.Errorf(errFmtCouldNotResolveAbsolutePath, candidate, errAbs)
		}

		return absPath, true, nil
	}

	if !os.IsNotExist(statErr) {
		return "", false, fmt.Errorf(errFmtErrorCheckingModelPath, candidate, statErr)
	}

	return "", false, nil
}

// GetModelPath resolves a model file, trying the name as given, then the local
// models directory, then the cache.
func GetModelPath(modelName string) (string, error) {
	candidatePaths := []string{
		modelName,
		filepath.Join(modelsDirName, modelName),
		filepath.Join(GetCacheDir(), modelsDirName, modelName),
	}

	for _, candidate := range candidatePaths {
		resolvedPath, found, err := resolveSinglePath(candidate)
		if err != nil {
			return "", err
		}

		if found {
			return resolvedPath, nil
		}
	}

	return "", fmt.Errorf(errFmtModelNotFound, ErrModelNotFound, modelName)
}

// FormatFileSize formats a byte count for logs (e.g. "1.2 MB").
func FormatFileSize(bytes int64) string {
	switch {
	case bytes >= gigabyte:
		return fmt.Sprintf(formatGB, float64(bytes)/gigabyte)
	case bytes >= megabyte:
		return fmt.Sprintf(formatMB, float64(bytes)/megabyte)
	case bytes >= kilobyte:
		return fmt.Sprintf(formatKB, float64(bytes)/kilobyte)
	default:
		return fmt.Sprintf(formatBytes, bytes)
	}
}

// HasExtension reports whether key ends with ext, ignoring case.
func HasExtension(key, ext string) bool {
	return strings.EqualFold(path.Ext(key), ext)
}

// BaseName returns the last element of an object key without its extension.
func BaseName(key string) string {
	base := path.Base(key)

	return strings.TrimSuffix(base, path.Ext(base))
}

// UserPrefix returns the local part of an e-mail address, or the identity
// unchanged when it has no '@'. The result is safe to use as a key segment.
func UserPrefix(identity string) string {
	local, _, _ := strings.Cut(strings.TrimSpace(identity), "@")

	return SanitizeFilename(local)
}

// SanitizeFilename replaces characters that are invalid in file names and
// object key segments.
func SanitizeFilename(filename string) string {
	replacer := strings.NewReplacer(
		"<", invalidCharReplacement,
		">", invalidCharReplacement,
		":", invalidCharReplacement,
		"\"", invalidCharReplacement,
		"/", invalidCharReplacement,
		"\\", invalidCharReplacement,
		"|", invalidCharReplacement,
		"?", invalidCharReplacement,
		"*", invalidCharReplacement,
	)

	return replacer.Replace(filename)
}
