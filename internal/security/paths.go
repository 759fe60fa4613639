// Package security validates user-supplied output paths and file names
// before anything is written.
package security

import (
	"path/filepath"
	"strings"
	"unicode"

	"github.com/banshee-data/splatcapture/internal/errs"
)

// canonical resolves symlinks on the longest existing prefix of an
// absolute path, so that a not-yet-created output directory below a
// symlinked parent is still checked against its real location.
func canonical(abs string) string {
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	for check := abs; ; {
		parent := filepath.Dir(check)
		if parent == check {
			return abs
		}
		if resolved, err := filepath.EvalSymlinks(parent); err == nil {
			rel, _ := filepath.Rel(parent, abs)
			return filepath.Join(resolved, rel)
		}
		check = parent
	}
}

// ValidateWithin returns a configuration error when path, after cleaning
// and symlink resolution, escapes root.
func ValidateWithin(path, root string) error {
	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return errs.Configf("validate path", "resolve %s: %v", path, err)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return errs.Configf("validate path", "resolve %s: %v", root, err)
	}
	rel, err := filepath.Rel(canonical(absRoot), canonical(absPath))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return errs.Configf("validate path", "%s escapes %s", path, root)
	}
	return nil
}

// ResolveOutputDir cleans dir into an absolute path. When roots is not
// empty the result must lie inside one of them.
func ResolveOutputDir(dir string, roots []string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		return "", errs.Configf("output dir", "output directory is empty")
	}
	if strings.ContainsRune(dir, 0) {
		return "", errs.Configf("output dir", "output directory contains NUL")
	}
	abs, err := filepath.Abs(filepath.Clean(dir))
	if err != nil {
		return "", errs.Configf("output dir", "resolve %s: %v", dir, err)
	}
	if len(roots) == 0 {
		return abs, nil
	}
	for _, r := range roots {
		if ValidateWithin(abs, r) == nil {
			return abs, nil
		}
	}
	return "", errs.Configf("output dir", "%s must be within one of %v", dir, roots)
}

// ValidateImageName rejects names that cannot be stored as a single entry
// of the images directory or as a COLMAP image name.
func ValidateImageName(name string) error {
	switch {
	case name == "":
		return errs.Configf("image name", "empty image name")
	case name == "." || name == "..":
		return errs.Configf("image name", "invalid image name %q", name)
	case strings.ContainsAny(name, `/\`):
		return errs.Configf("image name", "image name %q contains a path separator", name)
	}
	for _, r := range name {
		if r == 0 || unicode.IsSpace(r) || unicode.IsControl(r) {
			return errs.Configf("image name", "image name %q contains whitespace or control characters", name)
		}
	}
	return nil
}

const maxNameLen = 128

// SanitizeName makes a file-name-safe token from an arbitrary session or
// prefix string. Runs of other characters collapse to one underscore.
func SanitizeName(s string) string {
	var b strings.Builder
	underscore := false
	for _, r := range s {
		if b.Len() >= maxNameLen {
			break
		}
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)), r == '.', r == '-', r == '_':
			b.WriteRune(r)
			underscore = r == '_'
		case !underscore:
			b.WriteByte('_')
			underscore = true
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unnamed"
	}
	return out
}
