package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// ReadCommandsFile reads one command per line.
func ReadCommandsFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read commands: %w", err)
	}
	defer f.Close()

	cmds, err := ParseCommands(f)
	if err != nil {
		return nil, fmt.Errorf("read commands %s: %w", path, err)
	}
	return cmds, nil
}

// ParseCommands skips blank lines and lines starting with #.
func ParseCommands(r io.Reader) ([]string, error) {
	var cmds []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		cmds = append(cmds, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return cmds, nil
}
