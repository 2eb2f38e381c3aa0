package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const (
	defaultServerAddress = "127.0.0.1:10000"
	maxNicknameLen       = 20
)

// UserConfig is the per-player record persisted under cfg/users. It is read
// at session start and rewritten whenever the user edits the server address.
type UserConfig struct {
	Nickname      string `json:"nickname"`
	ServerAddress string `json:"server_address"`
}

var serverAddressRe = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}:\d{1,5}$`)

func userConfigPath(nickname string) string {
	return filepath.Join(baseDir, "cfg", "users", nickname+".json")
}

// normalizeNickname folds the nickname to NFC so the name on the wire is a
// single canonical spelling.
func normalizeNickname(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// validNickname accepts printable names without protocol characters.
func validNickname(name string) bool {
	if name == "" || utf8.RuneCountInString(name) > maxNicknameLen {
		return false
	}
	for _, r := range name {
		if !unicode.IsPrint(r) || r == ';' || r == '\\' || r == '\n' {
			return false
		}
	}
	return true
}

// validServerAddress accepts a dotted-quad host:port address with a port in
// the usable range.
func validServerAddress(address string) bool {
	if !serverAddressRe.MatchString(address) {
		return false
	}
	_, _, err := splitServerAddress(address)
	return err == nil
}

// splitServerAddress breaks a validated address into host and port.
func splitServerAddress(address string) (string, int, error) {
	host, portStr, ok := strings.Cut(address, ":")
	if !ok {
		return "", 0, fmt.Errorf("%w: server address %q", errValidation, address)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("%w: server port %q", errValidation, portStr)
	}
	return host, port, nil
}

// loadUserConfig reads the player's config, creating it with defaults when
// this is the first session under that nickname.
func loadUserConfig(nickname string) (UserConfig, error) {
	path := userConfigPath(nickname)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg := UserConfig{Nickname: nickname, ServerAddress: defaultServerAddress}
		if err := saveUserConfig(cfg); err != nil {
			return UserConfig{}, err
		}
		logDebug("created user config %v", path)
		return cfg, nil
	}
	if err != nil {
		return UserConfig{}, fmt.Errorf("read user config: %w", err)
	}
	var cfg UserConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return UserConfig{}, fmt.Errorf("parse user config %v: %w", path, err)
	}
	if cfg.Nickname == "" {
		cfg.Nickname = nickname
	}
	if !validServerAddress(cfg.ServerAddress) {
		logError("user config %v has invalid server address %q, using default", path, cfg.ServerAddress)
		cfg.ServerAddress = defaultServerAddress
	}
	return cfg, nil
}

func saveUserConfig(cfg UserConfig) error {
	path := userConfigPath(cfg.Nickname)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create user config dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("save user config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("save user config: %w", err)
	}
	return nil
}
