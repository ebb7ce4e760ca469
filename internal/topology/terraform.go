package topology

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/danmuck/benchctl/internal/tools"
	"github.com/rs/zerolog/log"
)

var (
	ErrProvisioner   = errors.New("topology: provisioner command failed")
	ErrMissingOutput = errors.New("topology: output not found")
	ErrOutputType    = errors.New("topology: unexpected output type")
)

const terraformBinary = "terraform"

// Output is one entry of `terraform output -json`.
type Output struct {
	Value     json.RawMessage `json:"value"`
	Type      json.RawMessage `json:"type,omitempty"`
	Sensitive bool            `json:"sensitive"`
}

// Outputs is keyed by output name.
type Outputs map[string]Output

func ParseOutputs(data []byte) (Outputs, error) {
	var out Outputs
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: decode outputs: %v", ErrOutputType, err)
	}
	if out == nil {
		out = Outputs{}
	}
	return out, nil
}

// Fetch runs `terraform output -json` in dir.
func Fetch(ctx context.Context, runner tools.CommandRunner, dir string) (Outputs, error) {
	if runner == nil {
		runner = tools.ExecRunner{}
	}
	log.Debug().Str("component", "topology").Str("dir", dir).Msg("reading terraform outputs")

	stdout, stderr, code, err := runner.Run(ctx, dir, terraformBinary, "output", "-json")
	if err != nil || code != 0 {
		msg := strings.TrimSpace(string(stderr))
		if msg == "" && err != nil {
			msg = err.Error()
		}
		return nil, fmt.Errorf("%w: %s output -json exited %d: %s", ErrProvisioner, terraformBinary, code, msg)
	}
	return ParseOutputs(stdout)
}

// Names returns output names in sorted order, which is also terraform's order.
func (o Outputs) Names() []string {
	names := make([]string, 0, len(o))
	for name := range o {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (o Outputs) Has(name string) bool {
	_, ok := o[name]
	return ok
}

// Strings flattens a scalar, list or nested list output into strings.
func (o Outputs) Strings(name string) ([]string, error) {
	raw, err := o.decode(name)
	if err != nil {
		return nil, err
	}
	var out []string
	if err := flatten(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrOutputType, name, err)
	}
	return out, nil
}

// String returns a scalar output, or the first element of a list output.
func (o Outputs) String(name string) (string, error) {
	values, err := o.Strings(name)
	if err != nil {
		return "", err
	}
	if len(values) == 0 {
		return "", fmt.Errorf("%w: %s is empty", ErrOutputType, name)
	}
	return values[0], nil
}

func (o Outputs) Int(name string) (int, error) {
	value, err := o.String(name)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %s is not an integer: %q", ErrOutputType, name, value)
	}
	return n, nil
}

func (o Outputs) decode(name string) (any, error) {
	entry, ok := o[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingOutput, name)
	}
	if len(entry.Value) == 0 {
		return nil, nil
	}
	var raw any
	if err := json.Unmarshal(entry.Value, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrOutputType, name, err)
	}
	return raw, nil
}

func flatten(v any, out *[]string) error {
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		*out = append(*out, x)
	case float64:
		*out = append(*out, strconv.FormatFloat(x, 'f', -1, 64))
	case bool:
		*out = append(*out, strconv.FormatBool(x))
	case []any:
		for _, item := range x {
			if err := flatten(item, out); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("cannot flatten %T", v)
	}
	return nil
}
