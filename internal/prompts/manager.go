package prompts

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Template names.
const (
	PlannerGeneral  = "planner_general"
	PlannerAcademic = "planner_academic"
	StepGeneral     = "step_general"
	StepAcademic    = "step_academic"
	ReportGeneral   = "report_general"
	ReportAcademic  = "report_academic"
)

// PackFile is the optional YAML prompt pack inside the prompts directory.
const PackFile = "prompts.yaml"

//go:embed defaults/*.md
var defaultFS embed.FS

// Manager resolves prompt templates. Files in Directory override the YAML
// pack, which overrides the built-in defaults.
type Manager struct {
	Directory string

	mu        sync.RWMutex
	overrides map[string]string
}

func NewManager(dir string) *Manager {
	return &Manager{Directory: dir, overrides: make(map[string]string)}
}

// Load reads overrides from the directory. A missing directory is not an
// error; the defaults are used.
func (pm *Manager) Load() error {
	overrides := make(map[string]string)
	if pm.Directory == "" {
		pm.swap(overrides)
		return nil
	}

	entries, err := os.ReadDir(pm.Directory)
	if os.IsNotExist(err) {
		pm.swap(overrides)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read prompts directory: %v", err)
	}

	packPath := filepath.Join(pm.Directory, PackFile)
	if data, err := os.ReadFile(packPath); err == nil {
		var pack map[string]string
		if err := yaml.Unmarshal(data, &pack); err != nil {
			return fmt.Errorf("failed to parse %s: %w", packPath, err)
		}
		for name, text := range pack {
			if strings.TrimSpace(text) != "" {
				overrides[name] = text
			}
		}
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		path := filepath.Join(pm.Directory, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read prompt file %s: %v", path, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}
		overrides[strings.TrimSuffix(e.Name(), ".md")] = string(data)
	}

	pm.swap(overrides)
	return nil
}

func (pm *Manager) swap(m map[string]string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.overrides = m
}

// Get returns the template text for name, or "" when nothing defines it.
func (pm *Manager) Get(name string) string {
	pm.mu.RLock()
	text, ok := pm.overrides[name]
	pm.mu.RUnlock()
	if ok {
		return strings.TrimSpace(text)
	}
	return Default(name)
}

// Overridden lists the templates replaced by the directory, sorted.
func (pm *Manager) Overridden() []string {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	names := make([]string, 0, len(pm.overrides))
	for n := range pm.overrides {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Default returns the built-in template for name.
func Default(name string) string {
	data, err := defaultFS.ReadFile("defaults/" + name + ".md")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
