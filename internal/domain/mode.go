package domain

import (
	"fmt"
	"strings"
)

// ServerMode selects how an instance is delivered to downloaders.
type ServerMode string

const (
	// ModeLocalHost serves on the machine's own interfaces
	ModeLocalHost ServerMode = "LocalHost"
	// ModeInternet is reserved for relaying through a public address
	ModeInternet ServerMode = "Internet"
	// ModeDarkWeb is reserved for an anonymizing overlay
	ModeDarkWeb ServerMode = "DarkWeb"
)

// ValidModes lists all server modes
var ValidModes = []ServerMode{ModeLocalHost, ModeInternet, ModeDarkWeb}

// IsValid checks if a mode is one of ValidModes
func (m ServerMode) IsValid() bool {
	for _, valid := range ValidModes {
		if m == valid {
			return true
		}
	}
	return false
}

// ParseMode parses a mode string (case-insensitive), returning an error if invalid
func ParseMode(s string) (ServerMode, error) {
	for _, valid := range ValidModes {
		if strings.EqualFold(s, string(valid)) {
			return valid, nil
		}
	}
	return "", fmt.Errorf("invalid server mode %q, valid modes: %v", s, ValidModes)
}

// UnmarshalText lets JSON and YAML decoders accept any casing.
func (m *ServerMode) UnmarshalText(text []byte) error {
	mode, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}
