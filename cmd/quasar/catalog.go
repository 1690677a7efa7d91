package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/oriys/quasar/internal/domain"
	"github.com/oriys/quasar/internal/remote"
	"github.com/oriys/quasar/internal/signature"
)

const builtinModule = "builtin"

// catalog holds the functions compiled into this binary. The CLI defines
// tasks from it and the daemon resolves exported descriptors against it, so
// both sides agree on what a qualified name runs.
type catalog struct {
	fns map[string]remote.Function
}

func builtinCatalog() *catalog {
	c := &catalog{fns: make(map[string]remote.Function)}
	c.add(remote.Function{
		Name:      "add",
		Signature: signature.MustNew(signature.Required("a"), signature.Required("b")),
		Handler: func(_ context.Context, args []any) ([]any, error) {
			a, err := number(args[0])
			if err != nil {
				return nil, err
			}
			b, err := number(args[1])
			if err != nil {
				return nil, err
			}
			return []any{a + b}, nil
		},
	})
	c.add(remote.Function{
		Name:      "divmod",
		Signature: signature.MustNew(signature.Required("a"), signature.Required("b")),
		Handler: func(_ context.Context, args []any) ([]any, error) {
			a, err := number(args[0])
			if err != nil {
				return nil, err
			}
			b, err := number(args[1])
			if err != nil {
				return nil, err
			}
			if int64(b) == 0 {
				return nil, fmt.Errorf("integer division by zero")
			}
			return []any{int64(a) / int64(b), int64(a) % int64(b)}, nil
		},
	})
	c.add(remote.Function{
		Name:      "sum",
		Signature: signature.MustNew(signature.Variadic("values")),
		Handler: func(_ context.Context, args []any) ([]any, error) {
			var total float64
			for _, v := range args {
				n, err := number(v)
				if err != nil {
					return nil, err
				}
				total += n
			}
			return []any{total}, nil
		},
	})
	c.add(remote.Function{
		Name:      "echo",
		Signature: signature.MustNew(signature.Variadic("args"), signature.Keywords("kwargs")),
		Handler: func(_ context.Context, args []any) ([]any, error) {
			return []any{args}, nil
		},
	})
	c.add(remote.Function{
		Name:      "sleep",
		Signature: signature.MustNew(signature.Optional("seconds", 1)),
		Handler: func(ctx context.Context, args []any) ([]any, error) {
			secs, err := number(args[0])
			if err != nil {
				return nil, err
			}
			select {
			case <-time.After(time.Duration(secs * float64(time.Second))):
				return []any{secs}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	})
	return c
}

func (c *catalog) add(fn remote.Function) {
	fn.Module = builtinModule
	c.fns[fn.QualifiedName()] = fn
}

// Lookup implements spec.Catalog.
func (c *catalog) Lookup(module, name string) (remote.Function, bool) {
	fn := remote.Function{Module: module, Name: name}
	f, ok := c.fns[fn.QualifiedName()]
	return f, ok
}

// Resolve implements grpc.Resolver.
func (c *catalog) Resolve(d domain.FunctionDescriptor) (domain.Handler, bool) {
	f, ok := c.fns[d.QualifiedName()]
	if !ok {
		return nil, false
	}
	return f.Handler, true
}

func (c *catalog) get(qualified string) (remote.Function, bool) {
	f, ok := c.fns[qualified]
	return f, ok
}

func (c *catalog) names() []string {
	names := make([]string, 0, len(c.fns))
	for name := range c.fns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// number accepts the numeric shapes produced by CLI parsing and by CBOR
// decoding on the daemon.
func number(v any) (float64, error) {
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case float64:
		return n, nil
	case json.Number:
		return n.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}

// parseArg reads a CLI argument as JSON, falling back to the raw string.
func parseArg(s string) any {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return s
	}
	if n, ok := v.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return i
		}
		f, _ := n.Float64()
		return f
	}
	return v
}
