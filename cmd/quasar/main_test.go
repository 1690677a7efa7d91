package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/oriys/quasar/internal/backend"
	"github.com/oriys/quasar/internal/config"
	"github.com/oriys/quasar/internal/domain"
	"github.com/oriys/quasar/internal/remote"
)

func TestParseArg(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"3", int64(3)},
		{"2.5", 2.5},
		{"true", true},
		{`"quoted"`, "quoted"},
		{"plain", "plain"},
		{"1 2", "1 2"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := parseArg(tt.in); got != tt.want {
				t.Fatalf("parseArg(%q) = %#v, want %#v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNumber(t *testing.T) {
	for _, v := range []any{3, int64(3), uint64(3), 3.0, "3"} {
		if n, err := number(v); err != nil || n != 3 {
			t.Fatalf("number(%#v) = %v, %v", v, n, err)
		}
	}
	if _, err := number([]int{1}); err == nil {
		t.Fatal("expected error for a slice")
	}
}

func TestCatalogResolve(t *testing.T) {
	cat := builtinCatalog()
	if _, ok := cat.Resolve(domain.FunctionDescriptor{Module: "builtin", Name: "divmod"}); !ok {
		t.Fatal("builtin.divmod should resolve")
	}
	if _, ok := cat.Resolve(domain.FunctionDescriptor{Module: "other", Name: "divmod"}); ok {
		t.Fatal("other.divmod should not resolve")
	}
	if _, ok := cat.Lookup("builtin", "sum"); !ok {
		t.Fatal("builtin.sum should be found")
	}
}

func TestRunLocal(t *testing.T) {
	cfg := config.DefaultConfig()
	ctx := context.Background()

	conn, err := connect(ctx, cfg, true)
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer conn.close()

	w := remote.NewWorker(conn.backend,
		remote.WithSink(conn.sink),
		remote.WithSessionJob(domain.SessionJob{SessionID: uuid.NewString(), JobID: "job"}),
	)

	tests := []struct {
		name string
		args []any
		opts []remote.Option
		want []float64
	}{
		{"add", []any{int64(2), 3.5}, nil, []float64{5.5}},
		{"divmod", []any{int64(17), int64(5)}, []remote.Option{remote.WithNumReturns(2)}, []float64{3, 2}},
		{"sum", []any{1, 2, 3, 4}, nil, []float64{10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def, err := lookupDefinition(builtinCatalog(), "", tt.name)
			if err != nil {
				t.Fatalf("lookupDefinition failed: %v", err)
			}
			bound, err := def.Options(tt.opts...)
			if err != nil {
				t.Fatalf("Options failed: %v", err)
			}
			res, err := bound.Invoke(ctx, w, tt.args, nil)
			if err != nil {
				t.Fatalf("Invoke failed: %v", err)
			}
			values, err := fetchAll(ctx, conn.getter, res.All())
			if err != nil {
				t.Fatalf("fetchAll failed: %v", err)
			}
			if len(values) != len(tt.want) {
				t.Fatalf("got %d values, want %d", len(values), len(tt.want))
			}
			for i, v := range values {
				if n, _ := number(v); n != tt.want[i] {
					t.Fatalf("value %d = %v, want %v", i, v, tt.want[i])
				}
			}
			release(ctx, conn.releaser, res.All(), "job", false)
			if _, err := conn.getter.Get(ctx, res.All()[0]); !errors.Is(err, backend.ErrUnknownObject) {
				t.Fatalf("result still held after release: %v", err)
			}
		})
	}
}

func TestLookupDefinitionFromManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.yaml")
	body := "kind: Task\nmodule: builtin\nfunction: divmod\nnumReturns: 2\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	def, err := lookupDefinition(builtinCatalog(), path, "divmod")
	if err != nil {
		t.Fatalf("lookupDefinition failed: %v", err)
	}
	if n := def.Defaults().NumReturns; n == nil || *n != 2 {
		t.Fatalf("manifest defaults not applied: %v", n)
	}
	if _, err := lookupDefinition(builtinCatalog(), path, "add"); err == nil {
		t.Fatal("expected error for a task missing from the manifest")
	}
	if _, err := lookupDefinition(builtinCatalog(), "", "nope"); err == nil {
		t.Fatal("expected error for an unknown function")
	}
}

func TestParsePairs(t *testing.T) {
	got, err := parsePairs([]string{"A=1", "B=x=y"})
	if err != nil || got["A"] != "1" || got["B"] != "x=y" {
		t.Fatalf("parsePairs = %v, %v", got, err)
	}
	if _, err := parsePairs([]string{"novalue"}); err == nil {
		t.Fatal("expected error")
	}
}
