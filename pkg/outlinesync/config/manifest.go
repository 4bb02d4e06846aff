package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// varPattern matches ${name}.
var varPattern = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// Manifest declares the jobs of a run.
//
//	command: ["${self}", "sync", "--code", "${code}", "${outline}"]
//	jobs:
//	  - id: aqa-8145
//	    vars: {code: "8145", outline: outlines/aqa-8145.txt}
//	  - id: ocr-j625
//	    args: ["./fetch-and-sync.sh", "${id}"]
//
// A job's args default to the manifest command. Placeholders ${id}, ${self}
// and the job's vars are expanded in args, env and dir; an unknown
// placeholder is an error.
type Manifest struct {
	Command []string  `yaml:"command" json:"command"`
	Env     []string  `yaml:"env" json:"env"`
	Jobs    []JobSpec `yaml:"jobs" json:"jobs"`
}

// JobSpec is one declared job.
type JobSpec struct {
	ID   string            `yaml:"id" json:"id"`
	Args []string          `yaml:"args" json:"args"`
	Env  []string          `yaml:"env" json:"env"`
	Dir  string            `yaml:"dir" json:"dir"`
	Vars map[string]string `yaml:"vars" json:"vars"`
}

// LoadManifest reads a manifest from a YAML (or JSON) file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest decodes a manifest document.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

// Expand returns the jobs with placeholders resolved. self is substituted
// for ${self}, normally the running executable.
func (m *Manifest) Expand(self string) ([]JobSpec, error) {
	var errs []error
	seen := make(map[string]bool, len(m.Jobs))
	out := make([]JobSpec, 0, len(m.Jobs))

	for i, j := range m.Jobs {
		if j.ID == "" {
			errs = append(errs, fmt.Errorf("job %d: id is required", i))
			continue
		}
		if seen[j.ID] {
			errs = append(errs, fmt.Errorf("job %s: duplicate id", j.ID))
			continue
		}
		seen[j.ID] = true

		vars := map[string]string{"id": j.ID, "self": self}
		for k, v := range j.Vars {
			vars[k] = v
		}

		args := j.Args
		if len(args) == 0 {
			args = m.Command
		}
		if len(args) == 0 {
			errs = append(errs, fmt.Errorf("job %s: no args and no manifest command", j.ID))
			continue
		}

		expanded := JobSpec{ID: j.ID, Vars: j.Vars}
		var err error
		if expanded.Args, err = expandAll(args, vars); err != nil {
			errs = append(errs, fmt.Errorf("job %s: args: %w", j.ID, err))
			continue
		}
		if expanded.Env, err = expandAll(append(append([]string{}, m.Env...), j.Env...), vars); err != nil {
			errs = append(errs, fmt.Errorf("job %s: env: %w", j.ID, err))
			continue
		}
		if expanded.Dir, err = expand(j.Dir, vars); err != nil {
			errs = append(errs, fmt.Errorf("job %s: dir: %w", j.ID, err))
			continue
		}
		out = append(out, expanded)
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return out, nil
}

func expandAll(list []string, vars map[string]string) ([]string, error) {
	if len(list) == 0 {
		return nil, nil
	}
	out := make([]string, len(list))
	for i, s := range list {
		v, err := expand(s, vars)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func expand(s string, vars map[string]string) (string, error) {
	var missing []string
	result := varPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := match[2 : len(match)-1]
		if v, ok := vars[name]; ok {
			return v
		}
		missing = append(missing, name)
		return match
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("undefined variable: %s", strings.Join(missing, ", "))
	}
	return result, nil
}
