package watcher

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// LoadInputs reads the monitored input list: one identifier per line,
// blank lines skipped, surrounding whitespace trimmed.
func LoadInputs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input list %s: %w", path, err)
	}
	defer f.Close()

	var inputs []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		inputs = append(inputs, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read input list %s: %w", path, err)
	}
	return inputs, nil
}
