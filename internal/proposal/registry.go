package proposal

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// RegistryFile is the source registry's name under the configuration root.
const RegistryFile = "sources.yaml"

// #region spec
// Spec is one registry entry.
type Spec struct {
	Name      string   `yaml:"name"`
	Transport string   `yaml:"transport"` // exec | grpc
	Proposes  Kind     `yaml:"proposes"`
	Command   []string `yaml:"command,omitempty"`
	Dir       string   `yaml:"dir,omitempty"`
	Env       []string `yaml:"env,omitempty"`
	Address   string   `yaml:"address,omitempty"`
	Timeout   string   `yaml:"timeout,omitempty"`
	Disabled  bool     `yaml:"disabled,omitempty"`
}

// TimeoutDuration parses Timeout; empty or invalid yields 0.
func (s Spec) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(s.Timeout)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

type registryFile struct {
	Sources []Spec `yaml:"sources"`
}

// Factory builds a Source for one transport.
type Factory func(Spec) (Source, error)

// ExecFactory builds an ExecSource. Relative dirs resolve against root.
func ExecFactory(root string) Factory {
	return func(s Spec) (Source, error) {
		if len(s.Command) == 0 {
			return nil, errors.New("exec source needs a command")
		}
		dir := s.Dir
		if dir != "" && !filepath.IsAbs(dir) {
			dir = filepath.Join(root, dir)
		}
		return &ExecSource{
			SourceName: s.Name,
			Produces:   s.Proposes,
			Command:    s.Command,
			Dir:        dir,
			Env:        s.Env,
			Timeout:    s.TimeoutDuration(),
		}, nil
	}
}

// #endregion spec

// #region broken
// Broken stands in for a registry entry that could not be built. It fails on
// every call so the build error is recorded against the cycle.
type Broken struct {
	SourceName string
	Err        error
}

func (b Broken) Name() string { return b.SourceName }

func (b Broken) Propose(context.Context, Window) (Proposal, error) {
	return Proposal{}, b.Err
}

// #endregion broken

// #region load-registry
// LoadRegistry reads the registry at path and builds every enabled entry with the
// factory registered for its transport. A missing file yields no sources. An
// entry that cannot be built becomes a Broken source under its name, and a
// registry that cannot be read or parsed becomes a single Broken source named
// after the file, returned together with the error.
func LoadRegistry(path string, factories map[string]Factory, log zerolog.Logger) ([]Source, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		err = fmt.Errorf("read registry: %w", err)
		return []Source{Broken{SourceName: RegistryFile, Err: err}}, err
	}

	var rf registryFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		err = fmt.Errorf("parse registry: %w", err)
		return []Source{Broken{SourceName: RegistryFile, Err: err}}, err
	}

	var out []Source
	seen := map[string]bool{}
	for i, spec := range rf.Sources {
		l := log.With().Int("entry", i).Str("source", spec.Name).Logger()
		if spec.Disabled {
			l.Debug().Msg("source disabled")
			continue
		}
		var (
			src Source
			err error
		)
		name := spec.Name
		switch {
		case name == "":
			name = fmt.Sprintf("entry-%d", i)
			err = errors.New("registry entry has no name")
		case seen[name]:
			name = fmt.Sprintf("%s#%d", name, i)
			err = fmt.Errorf("duplicate source name %q", spec.Name)
		default:
			seen[name] = true
			src, err = build(spec, factories)
		}
		if err != nil {
			l.Warn().Err(err).Msg("source unusable, it will fail every cycle")
			src = Broken{SourceName: name, Err: err}
		}
		out = append(out, src)
	}
	return out, nil
}

func build(spec Spec, factories map[string]Factory) (Source, error) {
	if _, ok := spec.Proposes.Artifact(); !ok {
		return nil, fmt.Errorf("unknown proposal kind %q", spec.Proposes)
	}
	transport := spec.Transport
	if transport == "" {
		transport = "exec"
	}
	factory, ok := factories[transport]
	if !ok {
		return nil, fmt.Errorf("unknown transport %q", transport)
	}
	src, err := factory(spec)
	if err != nil {
		return nil, fmt.Errorf("build: %w", err)
	}
	return src, nil
}

// #endregion load-registry
