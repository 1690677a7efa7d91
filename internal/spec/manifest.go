// Package spec parses YAML task manifests: task defaults and the placement
// groups they reference, one document per object.
package spec

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/oriys/quasar/internal/domain"
	"github.com/oriys/quasar/internal/placement"
	"github.com/oriys/quasar/internal/remote"
	"github.com/oriys/quasar/internal/resources"
	"github.com/oriys/quasar/internal/runtimeenv"
	"gopkg.in/yaml.v3"
)

const (
	KindTask           = "Task"
	KindPlacementGroup = "PlacementGroup"
)

// TaskSpec declares a task and its default invocation options. Unset fields
// fall back to the task definition defaults.
type TaskSpec struct {
	Module   string `yaml:"module"`
	Function string `yaml:"function"`
	Language string `yaml:"language,omitempty"`
	// Name is the display name given to submitted tasks.
	Name string `yaml:"name,omitempty"`

	resources.Request `yaml:",inline"`

	NumReturns        *int            `yaml:"numReturns,omitempty"`
	MaxRetries        *int            `yaml:"maxRetries,omitempty"`
	RetryExceptions   *bool           `yaml:"retryExceptions,omitempty"`
	MaxCalls          *int            `yaml:"maxCalls,omitempty"`
	PlacementGroup    string          `yaml:"placementGroup,omitempty"`
	BundleIndex       *int            `yaml:"bundleIndex,omitempty"`
	CaptureChildTasks *bool           `yaml:"captureChildTasks,omitempty"`
	RuntimeEnv        *runtimeenv.Env `yaml:"runtimeEnv,omitempty"`
}

// QualifiedName returns module.function.
func (t *TaskSpec) QualifiedName() string {
	if t.Module == "" {
		return t.Function
	}
	return t.Module + "." + t.Function
}

// GroupSpec declares a placement group.
type GroupSpec struct {
	Name     string             `yaml:"name"`
	Strategy placement.Strategy `yaml:"strategy,omitempty"`
	Bundles  []placement.Bundle `yaml:"bundles"`
}

type document struct {
	APIVersion string `yaml:"apiVersion,omitempty"`
	Kind       string `yaml:"kind"`
}

// Manifest is a parsed manifest file.
type Manifest struct {
	Tasks  []TaskSpec
	Groups map[string]*placement.Group
}

// Catalog resolves native functions by module and name.
type Catalog interface {
	Lookup(module, name string) (remote.Function, bool)
}

// CatalogFunc adapts a function to Catalog.
type CatalogFunc func(module, name string) (remote.Function, bool)

func (f CatalogFunc) Lookup(module, name string) (remote.Function, bool) { return f(module, name) }

// ParseFile parses a manifest file.
func ParseFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	m, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Parse reads every document in r. Placement groups may be declared before
// or after the tasks that use them.
func Parse(r io.Reader) (*Manifest, error) {
	decoder := yaml.NewDecoder(r)
	m := &Manifest{Groups: make(map[string]*placement.Group)}

	for i := 0; ; i++ {
		var node yaml.Node
		err := decoder.Decode(&node)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}

		var doc document
		if err := node.Decode(&doc); err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		switch doc.Kind {
		case "":
			// Skip empty documents
			continue
		case KindTask:
			var t TaskSpec
			if err := node.Decode(&t); err != nil {
				return nil, fmt.Errorf("document %d: %w", i, err)
			}
			if t.Function == "" {
				return nil, fmt.Errorf("document %d: task function is required", i)
			}
			m.Tasks = append(m.Tasks, t)
		case KindPlacementGroup:
			var g GroupSpec
			if err := node.Decode(&g); err != nil {
				return nil, fmt.Errorf("document %d: %w", i, err)
			}
			if g.Name == "" {
				return nil, fmt.Errorf("document %d: placement group name is required", i)
			}
			if len(g.Bundles) == 0 {
				return nil, fmt.Errorf("placement group %s has no bundles", g.Name)
			}
			if _, dup := m.Groups[g.Name]; dup {
				return nil, fmt.Errorf("placement group %s declared twice", g.Name)
			}
			m.Groups[g.Name] = placement.NewGroup(g.Name, g.Strategy, g.Bundles...)
		default:
			return nil, fmt.Errorf("document %d: unknown kind %q", i, doc.Kind)
		}
	}

	if len(m.Tasks) == 0 && len(m.Groups) == 0 {
		return nil, fmt.Errorf("no tasks or placement groups found")
	}
	for _, t := range m.Tasks {
		if t.PlacementGroup != "" && m.Groups[t.PlacementGroup] == nil {
			return nil, fmt.Errorf("task %s references unknown placement group %s", t.QualifiedName(), t.PlacementGroup)
		}
	}
	return m, nil
}

// GroupNames returns the declared group names, sorted.
func (m *Manifest) GroupNames() []string {
	names := make([]string, 0, len(m.Groups))
	for name := range m.Groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Options converts the task's settings into definition options.
func (m *Manifest) Options(t TaskSpec) []remote.Option {
	opts := []remote.Option{remote.WithResourceRequest(t.Request)}
	if t.NumReturns != nil {
		opts = append(opts, remote.WithNumReturns(*t.NumReturns))
	}
	if t.MaxRetries != nil {
		opts = append(opts, remote.WithMaxRetries(*t.MaxRetries))
	}
	if t.RetryExceptions != nil {
		opts = append(opts, remote.WithRetryExceptions(*t.RetryExceptions))
	}
	if t.MaxCalls != nil {
		opts = append(opts, remote.WithMaxCalls(*t.MaxCalls))
	}
	if t.PlacementGroup != "" {
		opts = append(opts, remote.WithPlacementGroup(placement.In(m.Groups[t.PlacementGroup])))
	}
	if t.BundleIndex != nil {
		opts = append(opts, remote.WithBundleIndex(*t.BundleIndex))
	}
	if t.CaptureChildTasks != nil {
		opts = append(opts, remote.WithCaptureChildTasks(*t.CaptureChildTasks))
	}
	if t.RuntimeEnv != nil {
		opts = append(opts, remote.WithRuntimeEnv(t.RuntimeEnv))
	}
	if t.Name != "" {
		opts = append(opts, remote.WithName(t.Name))
	}
	return opts
}

// Definitions defines every task of the manifest, keyed by qualified name.
// Native tasks are resolved through catalog; foreign tasks need no handler.
func (m *Manifest) Definitions(catalog Catalog) (map[string]*remote.TaskDefinition, error) {
	defs := make(map[string]*remote.TaskDefinition, len(m.Tasks))
	for _, t := range m.Tasks {
		lang := domain.Language(t.Language)
		if lang == "" {
			lang = domain.LanguageGo
		}

		var fn remote.Function
		if lang.IsForeign() {
			fn = remote.Function{Module: t.Module, Name: t.Function, Language: lang}
		} else {
			var ok bool
			if catalog != nil {
				fn, ok = catalog.Lookup(t.Module, t.Function)
			}
			if !ok {
				return nil, domain.Configurationf("task %s: no native function registered under that name", t.QualifiedName())
			}
		}

		def, err := remote.Define(fn, m.Options(t)...)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", t.QualifiedName(), err)
		}
		if _, dup := defs[t.QualifiedName()]; dup {
			return nil, fmt.Errorf("task %s declared twice", t.QualifiedName())
		}
		defs[t.QualifiedName()] = def
	}
	return defs, nil
}
