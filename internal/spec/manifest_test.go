package spec

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/oriys/quasar/internal/domain"
	"github.com/oriys/quasar/internal/remote"
	"github.com/oriys/quasar/internal/signature"
)

const sample = `
apiVersion: quasar/v1
kind: Task
module: demo
function: add
numCpus: 2
memory: 104857600
resources:
  trainer: 1
numReturns: 1
maxRetries: 5
placementGroup: train
bundleIndex: 1
runtimeEnv:
  envVars:
    MODE: fast
---
apiVersion: quasar/v1
kind: PlacementGroup
name: train
strategy: SPREAD
bundles:
  - CPU: 2
  - CPU: 2
---
---
apiVersion: quasar/v1
kind: Task
module: ml.models
function: Score
language: java
numReturns: 2
`

func catalog() Catalog {
	add := remote.Function{
		Module:    "demo",
		Name:      "add",
		Signature: signature.MustNew(signature.Required("a"), signature.Required("b")),
		Handler: func(_ context.Context, args []any) ([]any, error) {
			return []any{args[0].(int) + args[1].(int)}, nil
		},
	}
	return CatalogFunc(func(module, name string) (remote.Function, bool) {
		if module == "demo" && name == "add" {
			return add, true
		}
		return remote.Function{}, false
	})
}

func TestParse(t *testing.T) {
	m, err := Parse(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(m.Tasks) != 2 {
		t.Fatalf("got %d tasks, want 2", len(m.Tasks))
	}
	add := m.Tasks[0]
	if add.QualifiedName() != "demo.add" || *add.NumCPUs != 2 || *add.Memory != 104857600 {
		t.Fatalf("unexpected task %+v", add)
	}
	if add.Custom["trainer"] != 1 || add.RuntimeEnv.EnvVars["MODE"] != "fast" {
		t.Fatalf("nested fields not decoded: %+v", add)
	}
	g := m.Groups["train"]
	if g == nil || g.BundleCount() != 2 || g.Strategy != "SPREAD" || g.ID == "" {
		t.Fatalf("unexpected group %+v", g)
	}
	if names := m.GroupNames(); len(names) != 1 || names[0] != "train" {
		t.Fatalf("GroupNames() = %v", names)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty", "", "no tasks"},
		{"unknown kind", "kind: Service\nname: x\n", "unknown kind"},
		{"missing function", "kind: Task\nmodule: demo\n", "function is required"},
		{"unknown group", "kind: Task\nfunction: f\nplacementGroup: nope\n", "unknown placement group"},
		{"group without bundles", "kind: PlacementGroup\nname: g\n", "no bundles"},
		{"duplicate group", "kind: PlacementGroup\nname: g\nbundles: [{CPU: 1}]\n---\nkind: PlacementGroup\nname: g\nbundles: [{CPU: 1}]\n", "declared twice"},
		{"bad yaml", "kind: [", "decode yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Parse() error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile failed: %v", err)
	}
	if len(m.Tasks) != 2 {
		t.Fatalf("got %d tasks", len(m.Tasks))
	}
	if _, err := ParseFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDefinitions(t *testing.T) {
	m, err := Parse(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	defs, err := m.Definitions(catalog())
	if err != nil {
		t.Fatalf("Definitions failed: %v", err)
	}

	add := defs["demo.add"]
	if add == nil {
		t.Fatal("demo.add not defined")
	}
	d := add.Defaults()
	if *d.Resources.NumCPUs != 2 || *d.MaxRetries != 5 || *d.BundleIndex != 1 {
		t.Fatalf("defaults not applied: %+v", d)
	}
	if d.Placement.Group() != m.Groups["train"] {
		t.Fatal("placement group not bound")
	}

	score := defs["ml.models.Score"]
	if score == nil || score.Language() != domain.LanguageJava {
		t.Fatalf("foreign task not defined: %v", score)
	}
	if desc, ok := score.Descriptor(); !ok || desc.Name != "Score" {
		t.Fatalf("foreign descriptor = %+v, %v", desc, ok)
	}
}

func TestDefinitionsErrors(t *testing.T) {
	m, err := Parse(strings.NewReader("kind: Task\nmodule: demo\nfunction: missing\n"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Definitions(catalog()); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}

	m, err = Parse(strings.NewReader("kind: Task\nmodule: demo\nfunction: add\nobjectStoreMemory: 100\n"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Definitions(catalog()); !errors.Is(err, domain.ErrUsage) {
		t.Fatalf("expected ErrUsage for object store memory, got %v", err)
	}
}
