package pilet

import "time"

// Target scopes where a shared data entry is physically stored.
type Target string

// Storage targets. Ownership rules do not depend on the target.
const (
	TargetMemory Target = "memory" // In-process only (default)
	TargetLocal  Target = "local"  // Written through to the session Storage
	TargetRemote Target = "remote" // In-process, marked for remote sync by pilets
)

// Valid reports whether t is a known target.
func (t Target) Valid() bool {
	switch t {
	case TargetMemory, TargetLocal, TargetRemote:
		return true
	}
	return false
}

// DataOptions configure a SetData call.
type DataOptions struct {
	Target  Target
	Expires time.Time     // Absolute expiration; zero means never
	TTL     time.Duration // Relative expiration; applied when Expires is zero
}

// DataOption configures DataOptions.
type DataOption func(*DataOptions)

// WithTarget stores the entry in the given target.
func WithTarget(t Target) DataOption {
	return func(o *DataOptions) { o.Target = t }
}

// ExpiresAt expires the entry at t.
func ExpiresAt(t time.Time) DataOption {
	return func(o *DataOptions) { o.Expires = t }
}

// ExpiresIn expires the entry d after it is written.
func ExpiresIn(d time.Duration) DataOption {
	return func(o *DataOptions) { o.TTL = d }
}

// NewDataOptions applies opts over the defaults.
func NewDataOptions(opts ...DataOption) DataOptions {
	o := DataOptions{Target: TargetMemory}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Target == "" {
		o.Target = TargetMemory
	}
	return o
}

// ExpiresFrom returns the absolute expiration relative to now, or the zero
// time if the entry never expires.
func (o DataOptions) ExpiresFrom(now time.Time) time.Time {
	if !o.Expires.IsZero() {
		return o.Expires
	}
	if o.TTL > 0 {
		return now.Add(o.TTL)
	}
	return time.Time{}
}
