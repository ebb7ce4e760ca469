package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Template renders a commented benchctl.toml holding the defaults.
func Template() (string, error) {
	defaults := DefaultRunConfig()
	data, err := toml.Marshal(fileConfig{
		User:           defaults.User,
		KeyPath:        "~/.ssh/perf-ci.pem",
		Port:           defaults.Port,
		ConnectTimeout: "30s",
		Policy:         string(defaults.Policy),
		Workers:        defaults.Workers,
		HostsFile:      defaults.HostsFile,
		Layout:         string(defaults.Layout),
		Commands:       []string{"uptime"},
		TerraformDir:   defaults.TerraformDir,
	})
	if err != nil {
		return "", fmt.Errorf("render config template: %w", err)
	}
	return string(data), nil
}

func WriteTemplate(path string, overwrite bool) error {
	template, err := Template()
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}
