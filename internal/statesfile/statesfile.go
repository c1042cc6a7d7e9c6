// Package statesfile parses the dynamic states file mapping Touch Portal
// pages and states to dataref formulas.
package statesfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/mohae/deepcopy"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("logger", "StatesFile")

// Version is the only on-disk schema version this plugin accepts. Earlier
// versions are rejected.
const Version = 4

// DefaultFileName is used when no path is configured.
const DefaultFileName = "states.json"

var ErrVersion = errors.New("states file version not supported")

// File is the parsed dynamic states file.
type File struct {
	Version           int      `json:"version"`
	LongPressCommands []string `json:"long-press-commands"`
	Pages             []Page   `json:"pages"`
}

// Page declares the states visible on one Touch Portal page.
type Page struct {
	Name   string  `json:"name"`
	States []State `json:"states"`
}

// State declares one dynamic state: a display name, a formula over dataref
// placeholders and the type its value is formatted as.
type State struct {
	Name            string `json:"name"`
	InternalName    string `json:"internal_name"`
	Formula         string `json:"formula"`
	Type            string `json:"type"`
	DatarefRounding *int   `json:"dataref-rounding"`
}

// Load reads and validates path. On any error the returned *File is nil and
// nothing else has happened: loading has no side effects.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("states file %s: %w", path, err)
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("states file %s: %w", path, err)
	}
	if f.Version != Version {
		return nil, fmt.Errorf("states file %s: %w: %d vs. %d", path, ErrVersion, f.Version, Version)
	}
	log.Infof("states file %s: %d pages, version %d", path, len(f.Pages), f.Version)
	return &f, nil
}

// Validate checks path without keeping anything.
func Validate(path string) error {
	_, err := Load(path)
	return err
}

// Copy returns a deep copy of f, so the holder's tables cannot be corrupted
// through the original value.
func (f *File) Copy() *File {
	return deepcopy.Copy(f).(*File)
}
