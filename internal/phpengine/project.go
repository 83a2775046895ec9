package phpengine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Framework is the PHP framework a project is built on.
type Framework string

const (
	FrameworkLaravel   Framework = "laravel"
	FrameworkSymfony   Framework = "symfony"
	FrameworkWordPress Framework = "wordpress"
	FrameworkDrupal    Framework = "drupal"
	FrameworkGeneric   Framework = "generic"
)

// frameworkMarkers are checked in order; the first marker file that
// exists decides the framework.
var frameworkMarkers = []struct {
	framework Framework
	marker    string
	entry     string
}{
	{FrameworkLaravel, "artisan", "public/index.php"},
	{FrameworkSymfony, "bin/console", "public/index.php"},
	{FrameworkWordPress, "wp-config.php", "index.php"},
	{FrameworkDrupal, "core/lib/Drupal.php", "index.php"},
}

// entryCandidates are tried when the framework gives no answer.
var entryCandidates = []string{
	"public/index.php",
	"index.php",
	"app.php",
	"frontend.php",
	"main.php",
}

func exists(root, rel string) bool {
	_, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel)))
	return err == nil
}

// DetectFramework identifies the framework of the project at root.
func DetectFramework(root string) Framework {
	for _, m := range frameworkMarkers {
		if exists(root, m.marker) {
			return m.framework
		}
	}
	return FrameworkGeneric
}

// DetectEntryPoint finds the script that serves requests for the project
// at root. An explicit value other than "auto" wins; then the framework's
// front controller; then the first existing candidate; then index.php.
func DetectEntryPoint(root, explicit string) string {
	if explicit != "" && explicit != "auto" {
		return explicit
	}

	fw := DetectFramework(root)
	for _, m := range frameworkMarkers {
		if m.framework == fw && exists(root, m.entry) {
			return m.entry
		}
	}

	for _, candidate := range entryCandidates {
		if exists(root, candidate) {
			return candidate
		}
	}
	return "index.php"
}

// supportedVersions are the PHP releases phpembed builds against, oldest
// first.
var supportedVersions = []string{"8.1", "8.2", "8.3", "8.4"}

// DefaultVersion is used when nothing else pins a version.
const DefaultVersion = "8.3"

// SelectVersion picks the PHP version for the project at root. An explicit
// value other than "auto" wins; otherwise the "php" constraint in
// composer.json is resolved to the newest supported release that
// satisfies it.
func SelectVersion(root, explicit string) string {
	if explicit != "" && explicit != "auto" {
		return explicit
	}

	data, err := os.ReadFile(filepath.Join(root, "composer.json"))
	if err != nil {
		return DefaultVersion
	}
	var composer struct {
		Require map[string]string `json:"require"`
	}
	if err := json.Unmarshal(data, &composer); err != nil {
		return DefaultVersion
	}
	if v := resolveConstraint(composer.Require["php"]); v != "" {
		return v
	}
	return DefaultVersion
}

var constraintPattern = regexp.MustCompile(`^(\^|~|>=?)?\s*(\d+)\.(\d+)`)

// resolveConstraint handles the common single-range forms: ^8.1, ~8.2,
// >=8.1 and 8.2.x. Alternatives ("^8.1 || ^8.2") use their first range.
func resolveConstraint(constraint string) string {
	constraint, _, _ = strings.Cut(strings.TrimSpace(constraint), "|")
	m := constraintPattern.FindStringSubmatch(strings.TrimSpace(constraint))
	if m == nil {
		return ""
	}
	op := m[1]
	major, _ := strconv.Atoi(m[2])
	minor, _ := strconv.Atoi(m[3])

	best := ""
	for _, v := range supportedVersions {
		vMajor, vMinor := splitVersion(v)
		switch op {
		case "^", "~":
			if vMajor != major || vMinor < minor {
				continue
			}
		case ">=", ">":
			if vMajor < major || (vMajor == major && vMinor < minor) {
				continue
			}
		default:
			if vMajor != major || vMinor != minor {
				continue
			}
		}
		best = v
	}
	return best
}

func splitVersion(v string) (major, minor int) {
	a, b, _ := strings.Cut(v, ".")
	major, _ = strconv.Atoi(a)
	minor, _ = strconv.Atoi(b)
	return major, minor
}
