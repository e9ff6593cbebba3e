package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// ExportDirName is the directory under VarDir holding file exports
const ExportDirName = "export"

// BaseDir returns the directory relative paths are resolved against: the
// working directory when it holds a configs/ directory, otherwise the
// directory of the executable.
func BaseDir() string {
	if wd, err := os.Getwd(); err == nil && dirExists(filepath.Join(wd, "configs")) {
		return wd
	}

	exeDir, err := executableDir()
	if err != nil {
		wd, _ := os.Getwd()
		return wd
	}
	return exeDir
}

func executableDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to get executable path: %w", err)
	}

	// Resolve symlinks to get the actual executable location
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return "", fmt.Errorf("failed to resolve executable symlinks: %w", err)
	}

	return filepath.Dir(exe), nil
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// ExportDir returns the directory file exports are written to
func (p PathsConfig) ExportDir() string {
	return filepath.Join(p.VarDir, ExportDirName)
}

// EnsureDirectories creates the directories the service writes to
func (p PathsConfig) EnsureDirectories() error {
	logger := slog.Default()

	for _, dir := range []string{p.VarDir, p.ExportDir(), p.LogsDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
		logger.Debug("Ensured directory exists", slog.String("directory", dir))
	}

	return nil
}

// FileExists checks if a file exists
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
