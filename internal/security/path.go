// Package security validates export destinations and filenames so that a
// variant is never written outside the working directory or under a name
// the host platform cannot handle.
package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	ErrPathTraversal = errors.New("path traversal detected")
	ErrAbsolutePath  = errors.New("absolute paths are not allowed")
	ErrReservedName  = errors.New("reserved filename not allowed")
)

// Device names Windows refuses regardless of extension.
var windowsReserved = map[string]bool{
	"con": true, "prn": true, "aux": true, "nul": true,
	"com1": true, "com2": true, "com3": true, "com4": true,
	"com5": true, "com6": true, "com7": true, "com8": true, "com9": true,
	"lpt1": true, "lpt2": true, "lpt3": true, "lpt4": true,
	"lpt5": true, "lpt6": true, "lpt7": true, "lpt8": true, "lpt9": true,
}

func isReserved(name string) bool {
	stem := strings.TrimSuffix(strings.ToLower(name), filepath.Ext(name))
	return windowsReserved[stem]
}

// ValidateSavePath checks an export destination before writing image bytes
// to it. Only relative paths under the working directory are allowed.
func ValidateSavePath(path string) error {
	if filepath.IsAbs(path) {
		return ErrAbsolutePath
	}
	if strings.Contains(path, "..") || strings.HasPrefix(filepath.Clean(path), "..") {
		return ErrPathTraversal
	}

	base := filepath.Base(filepath.Clean(path))
	if isReserved(base) {
		return ErrReservedName
	}
	if strings.HasPrefix(base, "-") {
		return fmt.Errorf("filename cannot start with hyphen")
	}
	return nil
}

// SanitizeFilename strips characters that are unsafe in filenames on any
// supported platform.
func SanitizeFilename(name string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':':
			return '-'
		case '*', '?', '"', '<', '>', '|', 0:
			return -1
		}
		return r
	}, name)

	sanitized = strings.TrimLeft(sanitized, ".-")
	sanitized = strings.TrimRight(sanitized, ". ")

	if isReserved(sanitized) {
		sanitized += "_"
	}
	if sanitized == "" {
		return "file"
	}
	return sanitized
}

// ExportName builds a default filename for exporting a variant, derived
// from the source image name.
func ExportName(sourceName string, index int, mimeType string) string {
	base := strings.TrimSuffix(sourceName, filepath.Ext(sourceName))
	base = SanitizeFilename(base)

	ext := ".png"
	switch mimeType {
	case "image/jpeg":
		ext = ".jpg"
	case "image/webp":
		ext = ".webp"
	}

	return fmt.Sprintf("%s_variant%d%s", base, index+1, ext)
}
