// Package runtimeenv describes the execution environment a task runs in and
// how a call-level environment overlays the job-level one.
package runtimeenv

import (
	"sort"

	"github.com/oriys/quasar/internal/domain"
)

// Env is a structured execution environment.
type Env struct {
	WorkingDir string            `json:"working_dir,omitempty" yaml:"workingDir,omitempty"`
	URIs       []string          `json:"uris,omitempty" yaml:"uris,omitempty"`
	EnvVars    map[string]string `json:"env_vars,omitempty" yaml:"envVars,omitempty"`
	Packages   []string          `json:"packages,omitempty" yaml:"packages,omitempty"`
	Image      string            `json:"image,omitempty" yaml:"image,omitempty"`
}

// IsEmpty reports whether no field is set.
func (e *Env) IsEmpty() bool {
	return e == nil || (e.WorkingDir == "" && len(e.URIs) == 0 && len(e.EnvVars) == 0 &&
		len(e.Packages) == 0 && e.Image == "")
}

// Clone returns a deep copy; nil stays nil.
func (e *Env) Clone() *Env {
	if e == nil {
		return nil
	}
	out := &Env{
		WorkingDir: e.WorkingDir,
		Image:      e.Image,
		URIs:       append([]string(nil), e.URIs...),
		Packages:   append([]string(nil), e.Packages...),
	}
	if e.EnvVars != nil {
		out.EnvVars = make(map[string]string, len(e.EnvVars))
		for k, v := range e.EnvVars {
			out.EnvVars[k] = v
		}
	}
	return out
}

// Override overlays the call-level environment onto the job-level one.
// With no call-level environment the job's applies unchanged. Otherwise the
// call's fields win; fields it leaves unset are inherited from the job, and
// env vars are merged with call-level keys taking precedence. A call-level
// working directory is rejected: the job's working directory is shared by
// every task of the job.
func Override(call, job *Env) (*Env, error) {
	if call.IsEmpty() {
		return job.Clone(), nil
	}
	if call.WorkingDir != "" {
		return nil, domain.Usagef("overriding working_dir for tasks is not supported; set it on the job instead")
	}

	out := call.Clone()
	if job == nil {
		return out, nil
	}
	out.WorkingDir = job.WorkingDir
	if len(out.URIs) == 0 {
		out.URIs = append([]string(nil), job.URIs...)
	}
	if len(out.Packages) == 0 {
		out.Packages = append([]string(nil), job.Packages...)
	}
	if out.Image == "" {
		out.Image = job.Image
	}
	if len(job.EnvVars) > 0 {
		merged := make(map[string]string, len(job.EnvVars)+len(out.EnvVars))
		for k, v := range job.EnvVars {
			merged[k] = v
		}
		for k, v := range out.EnvVars {
			merged[k] = v
		}
		out.EnvVars = merged
	}
	return out, nil
}

// ToMap renders the environment as the backend's env dictionary. Empty
// fields are omitted; a nil env yields nil.
func (e *Env) ToMap() map[string]any {
	if e.IsEmpty() {
		return nil
	}
	m := make(map[string]any, 5)
	if e.WorkingDir != "" {
		m["working_dir"] = e.WorkingDir
	}
	if len(e.URIs) > 0 {
		m["uris"] = append([]string(nil), e.URIs...)
	}
	if len(e.EnvVars) > 0 {
		vars := make(map[string]string, len(e.EnvVars))
		for k, v := range e.EnvVars {
			vars[k] = v
		}
		m["env_vars"] = vars
	}
	if len(e.Packages) > 0 {
		m["packages"] = append([]string(nil), e.Packages...)
	}
	if e.Image != "" {
		m["image"] = e.Image
	}
	return m
}

// EnvList renders env vars as sorted KEY=VALUE pairs.
func (e *Env) EnvList() []string {
	if e == nil || len(e.EnvVars) == 0 {
		return nil
	}
	keys := make([]string, 0, len(e.EnvVars))
	for k := range e.EnvVars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+e.EnvVars[k])
	}
	return out
}
