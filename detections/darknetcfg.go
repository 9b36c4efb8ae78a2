package detections

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ParseDarknetLayout reads a Darknet network description and reports the output layout: the
// number of [yolo] sections and the filters of the convolution feeding the last of them.
func ParseDarknetLayout(r io.Reader) (OutputLayout, error) {
	var (
		layout      OutputLayout
		section     string
		lastFilters int
		scanner     = bufio.NewScanner(r)
	)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if i := strings.IndexAny(line, "#;"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.ToLower(strings.Trim(line, "[]"))
			if section == "yolo" {
				layout.Scales++
				layout.Channels = lastFilters
			}
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if section == "convolutional" && strings.TrimSpace(key) == "filters" {
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				return OutputLayout{}, errors.Wrapf(err, "bad filters value %q", value)
			}
			lastFilters = n
		}
	}
	if err := scanner.Err(); err != nil {
		return OutputLayout{}, errors.Wrap(err, "reading network description")
	}
	if layout.Scales == 0 {
		return OutputLayout{}, errors.New("network description has no [yolo] output layers")
	}
	return layout, nil
}
