package remote

import (
	"github.com/oriys/quasar/internal/placement"
	"github.com/oriys/quasar/internal/resources"
	"github.com/oriys/quasar/internal/runtimeenv"
)

const (
	DefaultNumReturns = 1
	DefaultMaxRetries = 3
	DefaultMaxCalls   = 0
)

// InvocationOptions holds task settings. On a definition they are the
// defaults; on a call they override them. Nil pointers and empty values
// inherit.
type InvocationOptions struct {
	Resources resources.Request

	NumReturns      *int
	MaxRetries      *int
	RetryExceptions *bool

	Placement         placement.Ref
	BundleIndex       *int
	CaptureChildTasks *bool

	RuntimeEnv *runtimeenv.Env

	// OverrideEnvironmentVariables is deprecated in favour of
	// RuntimeEnv.EnvVars. It is still forwarded to the backend.
	OverrideEnvironmentVariables map[string]string

	Name string

	// Definition-only settings.
	MaxCalls    *int
	Interceptor Interceptor
}

// Option configures InvocationOptions.
type Option func(*InvocationOptions)

func WithNumCPUs(n float64) Option {
	return func(o *InvocationOptions) { o.Resources.NumCPUs = &n }
}

func WithNumGPUs(n float64) Option {
	return func(o *InvocationOptions) { o.Resources.NumGPUs = &n }
}

// WithMemory sets the memory request in bytes.
func WithMemory(bytes int64) Option {
	return func(o *InvocationOptions) { o.Resources.Memory = &bytes }
}

// WithObjectStoreMemory is accepted so callers get a clear error: tasks
// cannot reserve object store memory.
func WithObjectStoreMemory(bytes int64) Option {
	return func(o *InvocationOptions) { o.Resources.ObjectStoreMemory = &bytes }
}

// WithResources sets the custom resource map, replacing any inherited one.
func WithResources(custom map[string]float64) Option {
	return func(o *InvocationOptions) {
		o.Resources.Custom = make(map[string]float64, len(custom))
		for k, v := range custom {
			o.Resources.Custom[k] = v
		}
	}
}

// WithResourceRequest replaces every resource setting at once, as read from
// a manifest. Unset fields in r stay unset.
func WithResourceRequest(r resources.Request) Option {
	return func(o *InvocationOptions) { o.Resources = r }
}

func WithAcceleratorType(t string) Option {
	return func(o *InvocationOptions) { o.Resources.AcceleratorType = t }
}

func WithNumReturns(n int) Option {
	return func(o *InvocationOptions) { o.NumReturns = &n }
}

// WithMaxRetries sets how often a task is retried after its worker dies. -1
// retries forever.
func WithMaxRetries(n int) Option {
	return func(o *InvocationOptions) { o.MaxRetries = &n }
}

// WithRetryExceptions also retries tasks that fail with an application error.
func WithRetryExceptions(retry bool) Option {
	return func(o *InvocationOptions) { o.RetryExceptions = &retry }
}

func WithPlacementGroup(ref placement.Ref) Option {
	return func(o *InvocationOptions) { o.Placement = ref }
}

func WithBundleIndex(idx int) Option {
	return func(o *InvocationOptions) { o.BundleIndex = &idx }
}

func WithCaptureChildTasks(capture bool) Option {
	return func(o *InvocationOptions) { o.CaptureChildTasks = &capture }
}

func WithRuntimeEnv(env *runtimeenv.Env) Option {
	return func(o *InvocationOptions) { o.RuntimeEnv = env.Clone() }
}

// WithOverrideEnvironmentVariables is deprecated; use WithRuntimeEnv.
func WithOverrideEnvironmentVariables(vars map[string]string) Option {
	return func(o *InvocationOptions) {
		o.OverrideEnvironmentVariables = make(map[string]string, len(vars))
		for k, v := range vars {
			o.OverrideEnvironmentVariables[k] = v
		}
	}
}

func WithName(name string) Option {
	return func(o *InvocationOptions) { o.Name = name }
}

// WithMaxCalls recycles a worker after it ran the function n times. Zero
// means unlimited. Definition-only.
func WithMaxCalls(n int) Option {
	return func(o *InvocationOptions) { o.MaxCalls = &n }
}

// WithInterceptor wraps every invocation of the definition. Definition-only.
func WithInterceptor(i Interceptor) Option {
	return func(o *InvocationOptions) { o.Interceptor = i }
}

func buildOptions(opts []Option) InvocationOptions {
	var o InvocationOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// merge overlays call-level settings onto definition defaults. Resources are
// resolved separately by resources.Resolve.
func merge(defaults, call InvocationOptions) InvocationOptions {
	out := defaults
	if call.NumReturns != nil {
		out.NumReturns = call.NumReturns
	}
	if call.MaxRetries != nil {
		out.MaxRetries = call.MaxRetries
	}
	if call.RetryExceptions != nil {
		out.RetryExceptions = call.RetryExceptions
	}
	if !call.Placement.IsDefault() {
		out.Placement = call.Placement
	}
	if call.BundleIndex != nil {
		out.BundleIndex = call.BundleIndex
	}
	if call.CaptureChildTasks != nil {
		out.CaptureChildTasks = call.CaptureChildTasks
	}
	if call.RuntimeEnv != nil {
		out.RuntimeEnv = call.RuntimeEnv
	}
	if call.OverrideEnvironmentVariables != nil {
		out.OverrideEnvironmentVariables = call.OverrideEnvironmentVariables
	}
	if call.Name != "" {
		out.Name = call.Name
	}
	return out
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
