package config

import (
	"os"
	"path/filepath"
	"strings"
)

// ExecutableDir returns the directory of the running binary, falling back to
// the working directory.
func ExecutableDir() string {
	exe, err := os.Executable()
	if err == nil && exe != "" {
		if resolved, err := filepath.EvalSymlinks(exe); err == nil && resolved != "" {
			exe = resolved
		}
		return filepath.Dir(exe)
	}
	if wd, err := os.Getwd(); err == nil && wd != "" {
		return wd
	}
	return "."
}

// ResolveRuntimePath makes raw absolute, relative to the executable.
func ResolveRuntimePath(raw, fallback string) string {
	target := strings.TrimSpace(raw)
	if target == "" {
		target = fallback
	}
	if target == "" {
		return ExecutableDir()
	}
	if filepath.IsAbs(target) {
		return filepath.Clean(target)
	}
	return filepath.Join(ExecutableDir(), target)
}
