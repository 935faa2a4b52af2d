package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Target is one Kobo server and collection that receives the generated forms.
type Target struct {
	// Name identifies the target in logs and run history (default: server host)
	Name string `yaml:"name" json:"name"`

	// URL is the Kobo server base URL, e.g. https://kf.kobotoolbox.org
	URL string `yaml:"kf_url" json:"kf_url"`

	// Token is the API token; ${VAR} references are expanded from the environment
	Token string `yaml:"token" json:"-"`

	// CollectionUID is the uid of the library collection forms are moved into
	CollectionUID string `yaml:"parent_uid" json:"parent_uid"`
}

// targetsFile is the on-disk layout. kobo_config is accepted for files
// written for the original script.
type targetsFile struct {
	Targets    []Target `yaml:"targets"`
	KoboConfig []Target `yaml:"kobo_config"`
}

// LoadTargets reads publish targets from a YAML (or JSON) file.
// A missing file yields no targets.
func LoadTargets(path string) ([]Target, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read targets file: %w", err)
	}

	return ParseTargets(data)
}

// ParseTargets decodes and normalizes a targets document.
func ParseTargets(data []byte) ([]Target, error) {
	var file targetsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse targets file: %w", err)
	}

	targets := append(file.Targets, file.KoboConfig...)
	for i := range targets {
		t := &targets[i]
		t.URL = strings.TrimRight(strings.TrimSpace(t.URL), "/")
		t.Token = strings.TrimSpace(os.ExpandEnv(t.Token))
		t.CollectionUID = strings.TrimSpace(t.CollectionUID)
		if t.Name == "" {
			if u, err := url.Parse(t.URL); err == nil && u.Host != "" {
				t.Name = u.Host
			} else {
				t.Name = fmt.Sprintf("target-%d", i+1)
			}
		}
	}
	return targets, nil
}

// validateTargets returns one message per problem found.
func validateTargets(targets []Target) []string {
	var errs []string
	seen := make(map[string]bool, len(targets))

	for i, t := range targets {
		label := fmt.Sprintf("target %d (%s)", i+1, t.Name)

		if seen[t.Name] {
			errs = append(errs, fmt.Sprintf("%s: duplicate name", label))
		}
		seen[t.Name] = true

		u, err := url.Parse(t.URL)
		if t.URL == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Sprintf("%s: kf_url %q must be an absolute http(s) URL", label, t.URL))
		}
		if t.Token == "" {
			errs = append(errs, fmt.Sprintf("%s: token is required", label))
		}
		if t.CollectionUID == "" {
			errs = append(errs, fmt.Sprintf("%s: parent_uid is required", label))
		}
	}
	return errs
}
