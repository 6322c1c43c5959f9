// Package platform maps the platform labels used by the ROM catalog to the
// ROM directory names used on muOS and Rocknix devices.
package platform

import (
	"sort"
	"strings"
)

var directories = map[string]string{
	"nes":      "nes",
	"snes":     "snes",
	"gb":       "gb",
	"game boy": "gb",
	"gbc":      "gbc",
	"gba":      "gba",
	"genesis":  "genesis",
	"gamegear": "gamegear",
	"sms":      "sms",
	"segacd":   "segacd",
	"sega32x":  "sega32x",
	"saturn":   "saturn",
	"ngp":      "ngp",
}

// Resolve returns the device directory for a platform label.
// Unknown labels are returned lower-cased but otherwise unchanged.
func Resolve(label string) string {
	key := strings.ToLower(strings.TrimSpace(label))

	if dir, ok := directories[key]; ok {
		return dir
	}

	return key
}

// Mapping is one entry of the platform table.
type Mapping struct {
	Label     string
	Directory string
}

// Known lists the platform table sorted by label.
func Known() []Mapping {
	mappings := make([]Mapping, 0, len(directories))
	for label, dir := range directories {
		mappings = append(mappings, Mapping{Label: label, Directory: dir})
	}

	sort.Slice(mappings, func(i, j int) bool {
		return mappings[i].Label < mappings[j].Label
	})

	return mappings
}
