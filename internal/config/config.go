package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/benchctl/internal/dispatch"
	"github.com/danmuck/benchctl/internal/topology"
)

var (
	ErrInvalidConfig = errors.New("config: invalid")
	ErrNoCommands    = errors.New("config: no commands to run")
)

const DefaultPath = "benchctl.toml"

// RunConfig is the resolved settings of one benchctl invocation.
type RunConfig struct {
	User             string
	KeyPath          string
	KeyPassphraseEnv string
	Port             int
	ConnectTimeout   time.Duration
	// KnownHosts enables trust-on-first-use host keys when set; empty accepts
	// any host key.
	KnownHosts   string
	Policy       dispatch.Policy
	Workers      int
	HostsFile    string
	Layout       topology.Layout
	Commands     []string
	CommandsFile string
	MetricsFile  string
	TerraformDir string
	SetupPrefix  string
}

// benchctl.toml key mapping. The comment tags feed the generated template.
type fileConfig struct {
	User             string   `toml:"user" comment:"remote login name"`
	KeyPath          string   `toml:"key_path" comment:"private key used for every host"`
	KeyPassphraseEnv string   `toml:"key_passphrase_env" comment:"environment variable holding the key passphrase, if any"`
	Port             int      `toml:"port" comment:"ssh port used when an address carries none"`
	ConnectTimeout   string   `toml:"connect_timeout" comment:"dial and handshake bound, e.g. 30s; 0 waits forever"`
	KnownHosts       string   `toml:"known_hosts" comment:"known_hosts file for trust on first use; empty accepts any host key"`
	Policy           string   `toml:"policy" comment:"isolate or fail-fast"`
	Workers          int      `toml:"workers" comment:"concurrent hosts; 0 is one per host"`
	HostsFile        string   `toml:"hosts_file" comment:"JSON or YAML mapping of hosts"`
	Layout           string   `toml:"layout" comment:"labels (label -> address) or params (address -> param)"`
	Commands         []string `toml:"commands" comment:"run in order on every host; {address} and {param} are substituted"`
	CommandsFile     string   `toml:"commands_file" comment:"one command per line, appended after commands"`
	MetricsFile      string   `toml:"metrics_file" comment:"prometheus textfile written after each run"`
	TerraformDir     string   `toml:"terraform_dir" comment:"directory terraform output -json runs in"`
	SetupPrefix      string   `toml:"setup_prefix" comment:"trimmed from setup_name when naming the cluster"`
}

func DefaultRunConfig() RunConfig {
	return RunConfig{
		User:         "ubuntu",
		Port:         22,
		Policy:       dispatch.PolicyIsolate,
		HostsFile:    "public_ips.json",
		Layout:       topology.LayoutLabels,
		TerraformDir: ".",
	}
}

// Load overlays the keys defined in path onto DefaultRunConfig. Relative file
// paths are resolved against the config file's directory.
func Load(path string) (RunConfig, error) {
	cfg := DefaultRunConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return RunConfig{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return RunConfig{}, fmt.Errorf("%w: unknown key %q in %s", ErrInvalidConfig, undecoded[0].String(), path)
	}
	base := filepath.Dir(path)

	if meta.IsDefined("user") {
		cfg.User = strings.TrimSpace(raw.User)
	}
	if meta.IsDefined("key_path") {
		cfg.KeyPath = resolvePath(base, raw.KeyPath)
	}
	if meta.IsDefined("key_passphrase_env") {
		cfg.KeyPassphraseEnv = strings.TrimSpace(raw.KeyPassphraseEnv)
	}
	if meta.IsDefined("port") {
		cfg.Port = raw.Port
	}
	if meta.IsDefined("connect_timeout") {
		timeout, err := parseTimeout(raw.ConnectTimeout)
		if err != nil {
			return RunConfig{}, err
		}
		cfg.ConnectTimeout = timeout
	}
	if meta.IsDefined("known_hosts") {
		cfg.KnownHosts = resolvePath(base, raw.KnownHosts)
	}
	if meta.IsDefined("policy") {
		cfg.Policy = dispatch.Policy(strings.TrimSpace(raw.Policy))
	}
	if meta.IsDefined("workers") {
		cfg.Workers = raw.Workers
	}
	if meta.IsDefined("hosts_file") {
		cfg.HostsFile = resolvePath(base, raw.HostsFile)
	} else {
		cfg.HostsFile = resolvePath(base, cfg.HostsFile)
	}
	if meta.IsDefined("layout") {
		cfg.Layout = topology.Layout(strings.TrimSpace(raw.Layout))
	}
	if meta.IsDefined("commands") {
		cfg.Commands = append([]string(nil), raw.Commands...)
	}
	if meta.IsDefined("commands_file") {
		cfg.CommandsFile = resolvePath(base, raw.CommandsFile)
	}
	if meta.IsDefined("metrics_file") {
		cfg.MetricsFile = resolvePath(base, raw.MetricsFile)
	}
	if meta.IsDefined("terraform_dir") {
		cfg.TerraformDir = resolvePath(base, raw.TerraformDir)
	}
	if meta.IsDefined("setup_prefix") {
		cfg.SetupPrefix = raw.SetupPrefix
	}

	if err := Validate(&cfg); err != nil {
		return RunConfig{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks cfg and normalizes its policy and layout names.
func Validate(cfg *RunConfig) error {
	if strings.TrimSpace(cfg.User) == "" {
		return fmt.Errorf("%w: user is required", ErrInvalidConfig)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, cfg.Port)
	}
	if cfg.Workers < 0 {
		return fmt.Errorf("%w: workers must not be negative", ErrInvalidConfig)
	}
	if cfg.ConnectTimeout < 0 {
		return fmt.Errorf("%w: connect_timeout must not be negative", ErrInvalidConfig)
	}
	policy, err := dispatch.ParsePolicy(string(cfg.Policy))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg.Policy = policy
	layout, err := topology.ParseLayout(string(cfg.Layout))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg.Layout = layout
	return nil
}

// ResolveCommands returns the inline commands followed by the commands file.
func (c RunConfig) ResolveCommands() ([]string, error) {
	cmds := make([]string, 0, len(c.Commands))
	for _, cmd := range c.Commands {
		if strings.TrimSpace(cmd) != "" {
			cmds = append(cmds, cmd)
		}
	}
	if c.CommandsFile != "" {
		fromFile, err := ReadCommandsFile(c.CommandsFile)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, fromFile...)
	}
	if len(cmds) == 0 {
		return nil, ErrNoCommands
	}
	return cmds, nil
}

// Passphrase reads the key passphrase from the configured environment
// variable. Nil means the key is not encrypted.
func (c RunConfig) Passphrase() []byte {
	if c.KeyPassphraseEnv == "" {
		return nil
	}
	value, ok := os.LookupEnv(c.KeyPassphraseEnv)
	if !ok {
		return nil
	}
	return []byte(value)
}

func parseTimeout(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: connect_timeout %q: %v", ErrInvalidConfig, raw, err)
	}
	return d, nil
}

// ExpandHome replaces a leading ~/ with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func resolvePath(base, path string) string {
	path = ExpandHome(strings.TrimSpace(path))
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}
