package core

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// catalogFile is the on-disk supplier catalog format:
//
//	suppliers:
//	  - name: MOUSER
//	    capabilities: [fetch_datasheet, fetch_pricing]
//	    per_minute: 30
//	    per_hour: 1000
//	    per_day: 10000
//	    pacing: 2s
type catalogFile struct {
	Suppliers []catalogEntry `yaml:"suppliers"`
}

type catalogEntry struct {
	Name         string   `yaml:"name"`
	Capabilities []string `yaml:"capabilities"`
	PerMinute    int      `yaml:"per_minute"`
	PerHour      int      `yaml:"per_hour"`
	PerDay       int      `yaml:"per_day"`
	Pacing       string   `yaml:"pacing"`
}

// LoadCatalogFile reads a supplier catalog definition from a YAML file.
// An entry with no capabilities gets every known capability. Budgets of
// zero mean unlimited for that window.
func LoadCatalogFile(path string) ([]SupplierInfo, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- catalog path comes from config
	if err != nil {
		return nil, fmt.Errorf("read supplier catalog %s: %w", path, err)
	}
	return ParseCatalog(path, data)
}

// ParseCatalog parses and validates a supplier catalog from YAML bytes.
func ParseCatalog(source string, data []byte) ([]SupplierInfo, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse supplier catalog %s: %w", source, err)
	}
	if len(file.Suppliers) == 0 {
		return nil, fmt.Errorf("supplier catalog %s defines no suppliers", source)
	}

	seen := make(map[string]bool, len(file.Suppliers))
	catalog := make([]SupplierInfo, 0, len(file.Suppliers))
	for _, entry := range file.Suppliers {
		name := NormalizeSupplier(entry.Name)
		if name == "" {
			return nil, fmt.Errorf("supplier catalog %s: supplier name is required", source)
		}
		if seen[name] {
			return nil, fmt.Errorf("supplier catalog %s: duplicate supplier %s", source, name)
		}
		seen[name] = true

		if entry.PerMinute < 0 || entry.PerHour < 0 || entry.PerDay < 0 {
			return nil, fmt.Errorf("supplier catalog %s: %s budgets must be non-negative", source, name)
		}

		caps := make([]Capability, 0, len(entry.Capabilities))
		for _, label := range entry.Capabilities {
			capability, err := ParseCapability(label)
			if err != nil {
				return nil, fmt.Errorf("supplier catalog %s: %s: %w", source, name, err)
			}
			caps = append(caps, capability)
		}
		if len(caps) == 0 {
			caps = append(caps, Capabilities...)
		}

		var pacing time.Duration
		if raw := strings.TrimSpace(entry.Pacing); raw != "" {
			parsed, err := time.ParseDuration(raw)
			if err != nil || parsed < 0 {
				return nil, fmt.Errorf("supplier catalog %s: %s: invalid pacing %q", source, name, raw)
			}
			pacing = parsed
		}

		catalog = append(catalog, SupplierInfo{
			Name: name,
			Caps: caps,
			Budgets: WindowBudgets{
				PerMinute: entry.PerMinute,
				PerHour:   entry.PerHour,
				PerDay:    entry.PerDay,
			},
			PacingDelay: pacing,
		})
	}

	return catalog, nil
}
