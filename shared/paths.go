package shared

import (
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/adrg/xdg"
	"github.com/spf13/afero"
)

// UserInfo resolves the per-user directories crumbeez writes to. Everything
// goes through afero so tests can run against a memory filesystem.
type UserInfo interface {
	CrumbeezConfigDir() (string, error)
	CrumbeezDataDir() (string, error)
	CrumbeezLogDir() (string, error)
}

type DefaultUserInfo struct {
	fs *afero.Afero
}

func NewDefaultUserInfo(fs *afero.Afero) *DefaultUserInfo {
	return &DefaultUserInfo{fs: fs}
}

func (u *DefaultUserInfo) CrumbeezConfigDir() (string, error) {
	configDir := filepath.Join(xdg.ConfigHome, "crumbeez")
	if err := u.fs.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return configDir, nil
}

func (u *DefaultUserInfo) CrumbeezDataDir() (string, error) {
	dataDir := filepath.Join(xdg.DataHome, "crumbeez")
	if err := u.fs.MkdirAll(dataDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return dataDir, nil
}

func (u *DefaultUserInfo) CrumbeezLogDir() (string, error) {
	var logDir string
	switch runtime.GOOS {
	case "darwin":
		logDir = filepath.Join(xdg.Home, "Library", "Logs", "crumbeez")
	default:
		logDir = filepath.Join(xdg.StateHome, "crumbeez")
	}

	if err := u.fs.MkdirAll(logDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create log directory: %w", err)
	}
	return logDir, nil
}

var _ UserInfo = (*DefaultUserInfo)(nil)
