package topology

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/danmuck/benchctl/internal/dispatch"
	"gopkg.in/yaml.v3"
)

var (
	ErrInvalidMapping = errors.New("topology: invalid mapping")
	ErrUnknownLayout  = errors.New("topology: unknown layout")
)

// Mapping is the flat key/value file the dispatcher reads its targets from.
type Mapping map[string]string

// Layout tells how to read a Mapping's keys and values.
type Layout string

const (
	// LayoutLabels maps a human-readable label to an address.
	LayoutLabels Layout = "labels"
	// LayoutParams maps an address to its per-target parameter.
	LayoutParams Layout = "params"
)

func ParseLayout(raw string) (Layout, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "labels", "label":
		return LayoutLabels, nil
	case "params", "param", "pairs":
		return LayoutParams, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownLayout, raw)
	}
}

// LoadMapping reads a mapping by file extension: .yaml/.yml as YAML, anything
// else as JSON. A plain list of addresses is accepted and keyed by itself.
func LoadMapping(path string) (Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := ParseMapping(data, isYAML(path))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidMapping, path, err)
	}
	return m, nil
}

func ParseMapping(data []byte, asYAML bool) (Mapping, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Mapping{}, nil
	}
	unmarshal := json.Unmarshal
	if asYAML {
		unmarshal = yaml.Unmarshal
	}

	var m Mapping
	if err := unmarshal(data, &m); err == nil {
		return m, nil
	}
	var list []string
	if err := unmarshal(data, &list); err != nil {
		return nil, errors.New("expected an object of strings or a list of strings")
	}
	m = make(Mapping, len(list))
	for _, addr := range list {
		m[addr] = addr
	}
	return m, nil
}

// WriteMapping writes m with sorted keys, YAML or single-space indented JSON.
func WriteMapping(path string, m Mapping) error {
	data, err := m.Encode(isYAML(path))
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

func (m Mapping) Encode(asYAML bool) ([]byte, error) {
	if m == nil {
		m = Mapping{}
	}
	if asYAML {
		return yaml.Marshal(map[string]string(m))
	}
	data, err := json.MarshalIndent(map[string]string(m), "", " ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Keys returns the mapping keys in sorted order.
func (m Mapping) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Targets converts m into dispatch targets ordered by key.
func (m Mapping) Targets(layout Layout) ([]dispatch.Target, error) {
	targets := make([]dispatch.Target, 0, len(m))
	for _, key := range m.Keys() {
		value := strings.TrimSpace(m[key])
		switch layout {
		case LayoutLabels, "":
			targets = append(targets, dispatch.Target{Address: value, Label: key})
		case LayoutParams:
			targets = append(targets, dispatch.Target{Address: strings.TrimSpace(key), Param: value})
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownLayout, layout)
		}
	}
	return targets, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
