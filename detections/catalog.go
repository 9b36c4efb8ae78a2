package detections

import (
	"bufio"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// ClassCatalog maps class indices to names. Index position is the class identifier.
type ClassCatalog []string

// LoadClassCatalog reads one class name per line, stripping surrounding whitespace.
func LoadClassCatalog(path string) (ClassCatalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ModelLoadError{Path: path, Cause: err}
	}
	defer f.Close()

	var names []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		names = append(names, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, &ModelLoadError{Path: path, Cause: errors.Wrap(err, "reading class catalog")}
	}

	// trailing blank lines are file padding, not classes
	for len(names) > 0 && names[len(names)-1] == "" {
		names = names[:len(names)-1]
	}
	if len(names) == 0 {
		return nil, &ModelLoadError{Path: path, Cause: errors.New("class catalog is empty")}
	}
	return ClassCatalog(names), nil
}

// Name returns the class name for idx, or "" when idx is out of range.
func (c ClassCatalog) Name(idx int) string {
	if idx < 0 || idx >= len(c) {
		return ""
	}
	return c[idx]
}
