package phpengine

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
)

// ExtensionConfig lists the PHP extensions to load.
type ExtensionConfig struct {
	Required []string `yaml:"required"`
	Optional []string `yaml:"optional"`
}

// zendExtensions must be loaded with zend_extension= rather than extension=.
var zendExtensions = map[string]bool{
	"opcache": true,
	"xdebug":  true,
}

// ExtensionManager resolves extension shared objects into INI lines. The
// engine loads them itself during module startup.
type ExtensionManager struct {
	phpVersion   string
	extensionDir string
	loaded       map[string]string
	config       *ExtensionConfig
	logger       *slog.Logger
	mu           sync.RWMutex
}

// NewExtensionManager creates an extension manager.
func NewExtensionManager(phpVersion string, cfg *ExtensionConfig) *ExtensionManager {
	return &ExtensionManager{
		phpVersion:   phpVersion,
		extensionDir: fmt.Sprintf("/usr/local/lib/php/%s/extensions", phpVersion),
		loaded:       make(map[string]string),
		config:       cfg,
	}
}

// SetExtensionDir sets a custom extension directory.
func (em *ExtensionManager) SetExtensionDir(dir string) {
	em.extensionDir = dir
}

// SetLogger sets the logger that reports skipped optional extensions.
func (em *ExtensionManager) SetLogger(logger *slog.Logger) {
	em.logger = logger
}

// INILines resolves every configured extension and returns the INI lines
// that load them. A missing required extension is an error; a missing
// optional one is logged and skipped.
func (em *ExtensionManager) INILines() ([]string, error) {
	if em.config == nil {
		return nil, nil
	}

	var lines []string
	for _, ext := range em.config.Required {
		line, err := em.resolve(ext)
		if err != nil {
			return nil, fmt.Errorf("required extension %s: %w", ext, err)
		}
		lines = append(lines, line)
	}

	for _, ext := range em.config.Optional {
		line, err := em.resolve(ext)
		if err != nil {
			if em.logger != nil {
				em.logger.Warn("optional php extension not available", "extension", ext, "error", err)
			}
			continue
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func (em *ExtensionManager) resolve(name string) (string, error) {
	path := filepath.Join(em.extensionDir, name+".so")
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("extension not found: %s", path)
	}

	em.mu.Lock()
	em.loaded[name] = path
	em.mu.Unlock()

	if zendExtensions[name] {
		return "zend_extension=" + path, nil
	}
	return "extension=" + path, nil
}

// IsLoaded reports whether name was resolved.
func (em *ExtensionManager) IsLoaded(name string) bool {
	em.mu.RLock()
	defer em.mu.RUnlock()
	_, ok := em.loaded[name]
	return ok
}

// LoadedExtensions returns the resolved extension names, sorted.
func (em *ExtensionManager) LoadedExtensions() []string {
	em.mu.RLock()
	defer em.mu.RUnlock()

	names := make([]string, 0, len(em.loaded))
	for name := range em.loaded {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Reset forgets resolved extensions, for worker recycling.
func (em *ExtensionManager) Reset() {
	em.mu.Lock()
	defer em.mu.Unlock()
	em.loaded = make(map[string]string)
}
