// Package registry provides read-only access to the configured
// competitor/stakeholder/topic targets used by the quality gate's coverage
// calculation, keyed by organization identifier.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Entity classes tracked per organization.
const (
	ClassCompetitor  = "competitor"
	ClassStakeholder = "stakeholder"
	ClassTopic       = "topic"
)

// Entity is one configured target.
type Entity struct {
	Name     string   `yaml:"name" json:"name"`
	Class    string   `yaml:"class" json:"class"`
	Priority int      `yaml:"priority" json:"priority"` // 1 = highest
	Aliases  []string `yaml:"aliases,omitempty" json:"aliases,omitempty"`
}

type orgEntry struct {
	ID       string   `yaml:"id"`
	Entities []Entity `yaml:"entities"`
}

type file struct {
	Organizations []orgEntry `yaml:"organizations"`
}

var (
	mu          sync.RWMutex
	loaded      map[string][]Entity
	initialized bool
)

var defaultPaths = []string{
	os.Getenv("TARGETS_CONFIG_PATH"),
	"/app/config/targets.yaml",
	"./config/targets.yaml",
	"../../config/targets.yaml",
}

func loadLocked() {
	entities := make(map[string][]Entity)
	for _, p := range defaultPaths {
		if p == "" {
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		var f file
		if err := yaml.Unmarshal(data, &f); err != nil {
			continue
		}
		for _, org := range f.Organizations {
			normalizeEntities(org.Entities)
			entities[org.ID] = org.Entities
		}
		break
	}
	if len(entities) == 0 {
		if path, ok := findUpConfig(); ok {
			if data, err := os.ReadFile(path); err == nil {
				var f file
				if err := yaml.Unmarshal(data, &f); err == nil {
					for _, org := range f.Organizations {
						normalizeEntities(org.Entities)
						entities[org.ID] = org.Entities
					}
				}
			}
		}
	}
	loaded = entities
	initialized = true
}

func normalizeEntities(entities []Entity) {
	for i := range entities {
		entities[i].Class = strings.ToLower(strings.TrimSpace(entities[i].Class))
		if entities[i].Priority <= 0 {
			entities[i].Priority = 3
		}
	}
	sort.SliceStable(entities, func(i, j int) bool {
		return entities[i].Priority < entities[j].Priority
	})
}

func findUpConfig() (string, bool) {
	wd, err := os.Getwd()
	if err != nil {
		return "", false
	}
	for i := 0; i < 6; i++ {
		cand := filepath.Join(wd, "config", "targets.yaml")
		if _, err := os.Stat(cand); err == nil {
			return cand, true
		}
		wd = filepath.Dir(wd)
	}
	return "", false
}

func get() map[string][]Entity {
	mu.RLock()
	if initialized {
		defer mu.RUnlock()
		return loaded
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if !initialized {
		loadLocked()
	}
	return loaded
}

// TargetsForOrg returns the configured entities for an organization, sorted by
// priority ascending. A missing organization yields an empty slice; coverage
// checks against an empty target set always pass.
func TargetsForOrg(orgID string) []Entity {
	entities := get()
	if entities == nil {
		return nil
	}
	return entities[strings.TrimSpace(orgID)]
}

// Mentioned reports whether text mentions the entity by name or alias,
// case-insensitively.
func (e Entity) Mentioned(text string) bool {
	lower := strings.ToLower(text)
	if name := strings.ToLower(strings.TrimSpace(e.Name)); name != "" && strings.Contains(lower, name) {
		return true
	}
	for _, alias := range e.Aliases {
		if a := strings.ToLower(strings.TrimSpace(alias)); a != "" && strings.Contains(lower, a) {
			return true
		}
	}
	return false
}

// Reload forces the registry file to be re-read on next access.
func Reload() {
	mu.Lock()
	defer mu.Unlock()
	initialized = false
	loadLocked()
}

// LoadFromBytes replaces the registry contents from raw YAML. Used by tests
// and by callers that receive registry payloads over the wire.
func LoadFromBytes(data []byte) error {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse targets yaml: %w", err)
	}
	entities := make(map[string][]Entity)
	for _, org := range f.Organizations {
		normalizeEntities(org.Entities)
		entities[org.ID] = org.Entities
	}
	mu.Lock()
	defer mu.Unlock()
	loaded = entities
	initialized = true
	return nil
}
