// Package resources merges per-call resource overrides with a task
// definition's defaults into one concrete resource request.
package resources

import (
	"math"
	"sort"

	"github.com/oriys/quasar/internal/domain"
)

const (
	// DefaultCPUs is the CPU request when neither the call nor the
	// definition sets one.
	DefaultCPUs = 1.0

	// MemoryUnitBytes is the granularity memory is expressed in to backends.
	MemoryUnitBytes int64 = 50 * 1024 * 1024

	// AcceleratorPrefix marks the tiny constraint resource that pins a task
	// to nodes with a given accelerator type.
	AcceleratorPrefix = "accelerator_type:"
	acceleratorAmount = 0.001
)

// Reserved names cannot appear in a custom resource map.
var reserved = []string{"CPU", "GPU", "memory", "object_store_memory"}

// Request is one level of resource settings. Nil pointers and empty values
// mean "unset": they inherit from the next level down.
type Request struct {
	NumCPUs           *float64           `json:"num_cpus,omitempty" yaml:"numCpus,omitempty"`
	NumGPUs           *float64           `json:"num_gpus,omitempty" yaml:"numGpus,omitempty"`
	Memory            *int64             `json:"memory,omitempty" yaml:"memory,omitempty"`
	ObjectStoreMemory *int64             `json:"object_store_memory,omitempty" yaml:"objectStoreMemory,omitempty"`
	Custom            map[string]float64 `json:"resources,omitempty" yaml:"resources,omitempty"`
	AcceleratorType   string             `json:"accelerator_type,omitempty" yaml:"acceleratorType,omitempty"`
}

// Resolved is a fully merged resource request.
type Resolved struct {
	CPU             float64
	GPU             *float64
	Memory          *int64
	Custom          map[string]float64
	AcceleratorType string
}

// ValidateRequest rejects settings that are unsupported at any level.
func ValidateRequest(r Request) error {
	if r.ObjectStoreMemory != nil {
		return domain.Usagef("setting object_store_memory is not implemented for tasks")
	}
	for _, name := range reserved {
		if _, ok := r.Custom[name]; ok {
			return domain.Usagef("the resources map must not contain the key %q; use the dedicated option instead", name)
		}
	}
	if r.NumCPUs != nil && *r.NumCPUs < 0 {
		return domain.Validationf("num_cpus must be non-negative, got %v", *r.NumCPUs)
	}
	if r.NumGPUs != nil && *r.NumGPUs < 0 {
		return domain.Validationf("num_gpus must be non-negative, got %v", *r.NumGPUs)
	}
	if r.Memory != nil && *r.Memory < 0 {
		return domain.Validationf("memory must be non-negative, got %d", *r.Memory)
	}
	for name, qty := range r.Custom {
		if qty < 0 {
			return domain.Validationf("resource %q must be non-negative, got %v", name, qty)
		}
	}
	return nil
}

// Resolve merges overrides onto defaults field by field. An override field
// wins when set; otherwise the default applies; otherwise the baseline.
// The custom map is taken whole from whichever level sets it.
func Resolve(defaults, overrides Request) (Resolved, error) {
	if err := ValidateRequest(defaults); err != nil {
		return Resolved{}, err
	}
	if err := ValidateRequest(overrides); err != nil {
		return Resolved{}, err
	}

	out := Resolved{CPU: DefaultCPUs}
	switch {
	case overrides.NumCPUs != nil:
		out.CPU = *overrides.NumCPUs
	case defaults.NumCPUs != nil:
		out.CPU = *defaults.NumCPUs
	}

	switch {
	case overrides.NumGPUs != nil:
		out.GPU = Float64(*overrides.NumGPUs)
	case defaults.NumGPUs != nil:
		out.GPU = Float64(*defaults.NumGPUs)
	}

	switch {
	case overrides.Memory != nil:
		out.Memory = Int64(*overrides.Memory)
	case defaults.Memory != nil:
		out.Memory = Int64(*defaults.Memory)
	}

	switch {
	case overrides.Custom != nil:
		out.Custom = copyMap(overrides.Custom)
	case defaults.Custom != nil:
		out.Custom = copyMap(defaults.Custom)
	default:
		out.Custom = map[string]float64{}
	}

	out.AcceleratorType = defaults.AcceleratorType
	if overrides.AcceleratorType != "" {
		out.AcceleratorType = overrides.AcceleratorType
	}

	if out.Memory != nil && *out.Memory > 0 {
		if _, err := MemoryUnits(*out.Memory); err != nil {
			return Resolved{}, err
		}
	}
	return out, nil
}

// ToMap renders the request in the backend's resource dictionary form.
func (r Resolved) ToMap() map[string]float64 {
	m := make(map[string]float64, len(r.Custom)+4)
	for k, v := range r.Custom {
		m[k] = v
	}
	m["CPU"] = r.CPU
	if r.GPU != nil {
		m["GPU"] = *r.GPU
	}
	if r.Memory != nil && *r.Memory > 0 {
		// Resolve already rejected sub-unit values.
		units, _ := MemoryUnits(*r.Memory)
		m["memory"] = float64(units)
	}
	if r.AcceleratorType != "" {
		m[AcceleratorPrefix+r.AcceleratorType] = acceleratorAmount
	}
	return m
}

// Names returns the sorted resource names of ToMap, for stable output.
func (r Resolved) Names() []string {
	m := r.ToMap()
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// MemoryUnits converts bytes to backend memory units, rounding up.
func MemoryUnits(bytes int64) (int64, error) {
	if bytes < MemoryUnitBytes {
		return 0, domain.Validationf("the minimum amount of memory that can be requested is %d bytes, however %d bytes was asked", MemoryUnitBytes, bytes)
	}
	return int64(math.Ceil(float64(bytes) / float64(MemoryUnitBytes))), nil
}

func copyMap(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Float64 returns a pointer to v, for building requests.
func Float64(v float64) *float64 { return &v }

// Int64 returns a pointer to v, for building requests.
func Int64(v int64) *int64 { return &v }
