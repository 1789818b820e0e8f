package infra

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

const (
	AppName = "cross-arb"
)

// Paths are the on-disk locations one engine instance uses.
type Paths struct {
	Workspace string
	DB        string
	Snapshots string
	LockFile  string
}

// ResolvePaths derives the runtime paths for cfg. Explicit storage paths in
// the config win; everything else lives under the workspace directory.
func ResolvePaths(cfg *Config) Paths {
	ws := GetWorkspaceDir()
	p := Paths{
		Workspace: ws,
		DB:        filepath.Join(ws, "data", "events.db"),
		Snapshots: filepath.Join(ws, "snapshots"),
		LockFile:  filepath.Join(ws, "instance.lock"),
	}
	if cfg != nil && cfg.Storage.DBPath != "" {
		p.DB = cfg.Storage.DBPath
	}
	if cfg != nil && cfg.Storage.SnapshotDir != "" {
		p.Snapshots = cfg.Storage.SnapshotDir
	}
	return p
}

// Ensure creates the directories the paths live in.
func (p Paths) Ensure() error {
	for _, dir := range []string{p.Workspace, filepath.Dir(p.DB), p.Snapshots} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// GetWorkspaceDir returns the root directory for runtime data: ARB_WORKSPACE
// if set, a local "_workspace" directory if one exists, otherwise the OS data
// directory.
func GetWorkspaceDir() string {
	if dir := os.Getenv("ARB_WORKSPACE"); dir != "" {
		return dir
	}
	localDir := "_workspace"
	if _, err := os.Stat(localDir); err == nil {
		return localDir
	}

	var baseDir string
	switch runtime.GOOS {
	case "windows":
		baseDir = os.Getenv("APPDATA")
		if baseDir == "" {
			baseDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, _ := os.UserHomeDir()
		baseDir = filepath.Join(home, "Library", "Application Support")
	case "linux":
		baseDir = os.Getenv("XDG_DATA_HOME")
		if baseDir == "" {
			home, _ := os.UserHomeDir()
			baseDir = filepath.Join(home, ".local", "share")
		}
	default:
		return localDir
	}
	return filepath.Join(baseDir, AppName)
}

// Lock takes the instance lock so two engines never trade from the same
// journal. The lock file holds the owner's PID; release removes it.
func (p Paths) Lock() (release func(), err error) {
	f, err := os.OpenFile(p.LockFile, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("another instance holds %s (pid %s)", p.LockFile, lockOwner(p.LockFile))
		}
		return nil, err
	}
	_, werr := f.WriteString(strconv.Itoa(os.Getpid()))
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		os.Remove(p.LockFile)
		return nil, fmt.Errorf("write lock %s: %w", p.LockFile, werr)
	}
	return func() { os.Remove(p.LockFile) }, nil
}

func lockOwner(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(b))
}

// ResolveConfigPath finds the config file: ARB_CONFIG, then
// configs/config.yaml in the working directory, then the OS config dir.
// The fallback is returned even if missing so LoadConfig reports it.
func ResolveConfigPath() string {
	if p := os.Getenv("ARB_CONFIG"); p != "" {
		return p
	}
	defaultPath := filepath.Join("configs", "config.yaml")
	if _, err := os.Stat(defaultPath); err == nil {
		return defaultPath
	}
	if root, err := os.UserConfigDir(); err == nil {
		osPath := filepath.Join(root, AppName, "config.yaml")
		if _, err := os.Stat(osPath); err == nil {
			return osPath
		}
	}
	return defaultPath
}
