package filestore

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/c360/confsync/errors"
)

const (
	// Hardening limits for fragment files. Size and depth caps are
	// per-store tunable; the path cap is not worth configuring.
	defaultMaxFileSize = 10 << 20 // 10MB per fragment
	defaultMaxDepth    = 100      // maximum JSON nesting depth
	maxPathLen         = 4096
)

// validateRelPath rejects fragment paths that could escape the store root.
// Paths here come from the directory walk or from mount rules, both of
// which should already be clean; this is the backstop.
func (s *Store) validateRelPath(rel string) error {
	if rel == "" {
		return errors.WrapInvalid(errors.ErrUnsafePath, "Store", "validateRelPath",
			"empty fragment path")
	}
	if len(rel) > maxPathLen {
		return errors.WrapInvalid(errors.ErrUnsafePath, "Store", "validateRelPath",
			fmt.Sprintf("path too long: %d > %d", len(rel), maxPathLen))
	}
	if filepath.IsAbs(rel) {
		return errors.WrapInvalid(errors.ErrUnsafePath, "Store", "validateRelPath",
			fmt.Sprintf("fragment path %q must be relative to the store root", rel))
	}

	clean := filepath.ToSlash(filepath.Clean(filepath.FromSlash(rel)))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return errors.WrapInvalid(errors.ErrUnsafePath, "Store", "validateRelPath",
			fmt.Sprintf("path traversal not allowed: %q resolves outside the store root", rel))
	}
	if !strings.HasSuffix(clean, ".json") {
		return errors.WrapInvalid(errors.ErrUnsafePath, "Store", "validateRelPath",
			fmt.Sprintf("only JSON fragments allowed: %s", rel))
	}
	return nil
}

// validateJSONDepth scans raw bytes before decoding so a hostile fragment
// cannot blow the stack with pathological nesting. String contents and
// escapes are skipped; only structural brackets count.
func validateJSONDepth(data []byte, maxDepth int) error {
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(data); i++ {
		b := data[i]

		if escaped {
			escaped = false
			continue
		}

		if b == '\\' && inString {
			escaped = true
			continue
		}

		if b == '"' {
			inString = !inString
			continue
		}

		if inString {
			continue
		}

		switch b {
		case '{', '[':
			depth++
			if depth > maxDepth {
				return errors.WrapInvalid(errors.ErrParsingFailed, "filestore", "validateJSONDepth",
					fmt.Sprintf("JSON nesting too deep: %d > %d", depth, maxDepth))
			}
		case '}', ']':
			depth--
			if depth < 0 {
				return errors.WrapInvalid(errors.ErrParsingFailed, "filestore", "validateJSONDepth",
					"malformed JSON: unbalanced brackets")
			}
		}
	}

	if depth != 0 {
		return errors.WrapInvalid(errors.ErrParsingFailed, "filestore", "validateJSONDepth",
			fmt.Sprintf("malformed JSON: unclosed brackets (depth=%d)", depth))
	}
	return nil
}
