// Package signature captures a task function's declared parameters and binds
// call arguments to them. Go functions carry no parameter names at runtime,
// so signatures are declared explicitly alongside the handler.
package signature

import (
	"fmt"
	"sort"
	"strings"

	"github.com/oriys/quasar/internal/domain"
)

// Kind is the binding behaviour of one parameter.
type Kind int

const (
	// PositionalOrKeyword may be bound by position or by name.
	PositionalOrKeyword Kind = iota
	// VarPositional collects surplus positional arguments.
	VarPositional
	// KeywordOnly may only be bound by name.
	KeywordOnly
	// VarKeyword collects surplus keyword arguments.
	VarKeyword
)

func (k Kind) String() string {
	switch k {
	case PositionalOrKeyword:
		return "positional"
	case VarPositional:
		return "var-positional"
	case KeywordOnly:
		return "keyword-only"
	case VarKeyword:
		return "var-keyword"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Param is one declared parameter.
type Param struct {
	Name       string `json:"name" cbor:"name" yaml:"name"`
	Kind       Kind   `json:"kind" cbor:"kind" yaml:"kind"`
	HasDefault bool   `json:"has_default,omitempty" cbor:"has_default,omitempty" yaml:"hasDefault,omitempty"`
	Default    any    `json:"default,omitempty" cbor:"default,omitempty" yaml:"default,omitempty"`
}

// Required declares a positional-or-keyword parameter without default.
func Required(name string) Param {
	return Param{Name: name, Kind: PositionalOrKeyword}
}

// Optional declares a positional-or-keyword parameter with a default.
func Optional(name string, def any) Param {
	return Param{Name: name, Kind: PositionalOrKeyword, HasDefault: true, Default: def}
}

// Variadic declares the var-positional parameter.
func Variadic(name string) Param {
	return Param{Name: name, Kind: VarPositional}
}

// KeywordOnlyParam declares a keyword-only parameter. Pass hasDefault=false
// for a required one.
func KeywordOnlyParam(name string, def any, hasDefault bool) Param {
	return Param{Name: name, Kind: KeywordOnly, HasDefault: hasDefault, Default: def}
}

// Keywords declares the var-keyword parameter.
func Keywords(name string) Param {
	return Param{Name: name, Kind: VarKeyword}
}

// Signature is an ordered, validated parameter list. The zero value is a
// signature with no parameters.
type Signature struct {
	params []Param
}

// New validates declaration order and name uniqueness.
func New(params ...Param) (Signature, error) {
	seen := make(map[string]struct{}, len(params))
	lastKind := PositionalOrKeyword
	sawDefault := false
	for i, p := range params {
		if p.Name == "" {
			return Signature{}, domain.Usagef("parameter %d has no name", i)
		}
		if _, dup := seen[p.Name]; dup {
			return Signature{}, domain.Usagef("duplicate parameter %q", p.Name)
		}
		seen[p.Name] = struct{}{}

		if p.Kind < lastKind {
			return Signature{}, domain.Usagef("parameter %q (%s) declared after %s parameter", p.Name, p.Kind, lastKind)
		}
		if (p.Kind == VarPositional || p.Kind == VarKeyword) && i > 0 && params[i-1].Kind == p.Kind {
			return Signature{}, domain.Usagef("more than one %s parameter", p.Kind)
		}
		if (p.Kind == VarPositional || p.Kind == VarKeyword) && p.HasDefault {
			return Signature{}, domain.Usagef("%s parameter %q cannot have a default", p.Kind, p.Name)
		}
		if p.Kind == PositionalOrKeyword {
			if p.HasDefault {
				sawDefault = true
			} else if sawDefault {
				return Signature{}, domain.Usagef("non-default parameter %q follows default parameter", p.Name)
			}
		}
		lastKind = p.Kind
	}
	return Signature{params: append([]Param(nil), params...)}, nil
}

// MustNew is New for static declarations.
func MustNew(params ...Param) Signature {
	sig, err := New(params...)
	if err != nil {
		panic(err)
	}
	return sig
}

// Len returns the number of declared parameters.
func (s Signature) Len() int { return len(s.params) }

// Params returns a copy of the declared parameters.
func (s Signature) Params() []Param {
	return append([]Param(nil), s.params...)
}

func (s Signature) String() string {
	parts := make([]string, 0, len(s.params))
	for _, p := range s.params {
		switch {
		case p.Kind == VarPositional:
			parts = append(parts, "*"+p.Name)
		case p.Kind == VarKeyword:
			parts = append(parts, "**"+p.Name)
		case p.HasDefault:
			parts = append(parts, fmt.Sprintf("%s=%v", p.Name, p.Default))
		default:
			parts = append(parts, p.Name)
		}
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// Flatten binds a call's positional and keyword arguments to the signature
// and returns the values in declared parameter order. Omitted optional
// parameters take their defaults, var-positional extras are inlined at their
// position and var-keyword extras are collected into one map[string]any.
func Flatten(sig Signature, args []any, kwargs map[string]any) ([]any, error) {
	if len(args) == 0 && len(kwargs) == 0 && sig.Len() == 0 {
		return []any{}, nil
	}

	bound := make(map[string]any, len(sig.params))
	var extraPositional []any
	var extraKeywords map[string]any

	varPos, varKw := -1, -1
	positional := 0
	for i, p := range sig.params {
		switch p.Kind {
		case PositionalOrKeyword:
			positional++
		case VarPositional:
			varPos = i
		case VarKeyword:
			varKw = i
		}
	}

	for i, v := range args {
		if i < positional {
			bound[sig.params[i].Name] = v
			continue
		}
		if varPos < 0 {
			return nil, domain.Bindingf("too many positional arguments: takes %d but %d were given", positional, len(args))
		}
		extraPositional = append(extraPositional, v)
	}

	// Sorted for deterministic error messages.
	names := make([]string, 0, len(kwargs))
	for name := range kwargs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		p, ok := sig.lookup(name)
		if ok && (p.Kind == PositionalOrKeyword || p.Kind == KeywordOnly) {
			if _, dup := bound[name]; dup {
				return nil, domain.Bindingf("multiple values for argument %q", name)
			}
			bound[name] = kwargs[name]
			continue
		}
		if varKw < 0 {
			return nil, domain.Bindingf("got an unexpected keyword argument %q", name)
		}
		if extraKeywords == nil {
			extraKeywords = make(map[string]any)
		}
		extraKeywords[name] = kwargs[name]
	}

	out := make([]any, 0, len(sig.params)+len(extraPositional))
	for _, p := range sig.params {
		switch p.Kind {
		case VarPositional:
			out = append(out, extraPositional...)
		case VarKeyword:
			if extraKeywords == nil {
				extraKeywords = map[string]any{}
			}
			out = append(out, extraKeywords)
		default:
			v, ok := bound[p.Name]
			if !ok {
				if !p.HasDefault {
					return nil, domain.Bindingf("missing a required argument: %q", p.Name)
				}
				v = p.Default
			}
			out = append(out, v)
		}
	}
	return out, nil
}

func (s Signature) lookup(name string) (Param, bool) {
	for _, p := range s.params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}
