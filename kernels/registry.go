package kernels

import (
	"fmt"
	"math"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// VersionLast marks the open end of a version range: a kernel registered
// with SinceVersion(n, VersionLast) serves opset n and everything after.
const VersionLast = math.MaxInt32

// opKey identifies an operator independently of version.
type opKey struct {
	provider string
	domain   string
	name     string
}

// Definition is one registered kernel: an identity (provider, domain,
// name, inclusive version range), parameter and type-constraint metadata,
// and the bound implementation.
type Definition struct {
	key                       opKey
	sinceVersion, lastVersion int
	typeConstraints           map[string][]dtypes.DType
	aliases                   [][2]int
	sig                       Signature

	kernel  Kernel  // stateless fn kernels, shared across instances
	factory Factory // struct kernels, one instance per occurrence
}

// Provider returns the execution-provider id the kernel was registered
// under.
func (d *Definition) Provider() string { return d.key.provider }

// Domain returns the operator domain.
func (d *Definition) Domain() string { return d.key.domain }

// Name returns the operator name.
func (d *Definition) Name() string { return d.key.name }

// VersionRange returns the inclusive opset version range served.
func (d *Definition) VersionRange() (since, last int) {
	return d.sinceVersion, d.lastVersion
}

// Signature returns the parameter list declared at registration. Struct
// kernel instances may narrow it (see Builder.Struct).
func (d *Definition) Signature() Signature { return d.sig }

// TypeConstraint returns the allowed element types for the given
// constraint name.
func (d *Definition) TypeConstraint(name string) []dtypes.DType {
	return d.typeConstraints[name]
}

// String implements fmt.Stringer.
func (d *Definition) String() string {
	last := "∞"
	if d.lastVersion != VersionLast {
		last = fmt.Sprintf("%d", d.lastVersion)
	}
	return fmt.Sprintf("%s::%s::%s[%d..%s]", d.key.provider, d.key.domain, d.key.name, d.sinceVersion, last)
}

// NewInstance builds the kernel instance serving one operator occurrence.
// For struct kernels, it invokes the registered factory with the given
// initialization metadata; fn kernels ignore info and share one stateless
// instance.
func (d *Definition) NewInstance(info Info) (Instance, error) {
	if d.factory == nil {
		return &boundKernel{kernel: d.kernel}, nil
	}
	kernel, err := d.factory(info)
	if err != nil {
		return nil, errors.WithMessagef(err, "constructing kernel %s", d)
	}
	if err := kernel.Signature().validate(); err != nil {
		return nil, errors.WithMessagef(err, "kernel %s reported an invalid signature", d)
	}
	return &boundKernel{kernel: kernel}, nil
}

// Registry maps (provider, domain, name, version) identities to kernel
// definitions.
//
// A Registry is explicitly owned: construct it at backend initialization,
// populate it single-threaded through CreateBuilder, then Freeze it.
// After freezing it is read-only and safe to share by reference with
// every execution context, without locking.
type Registry struct {
	defs   map[opKey][]*Definition
	frozen bool
}

// NewRegistry returns an empty, unfrozen registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[opKey][]*Definition)}
}

// CreateBuilder yields a fresh builder tied to this registry. It panics if
// the registry is already frozen: registration must complete before any
// inference execution begins.
func (r *Registry) CreateBuilder() *Builder {
	if r.frozen {
		exceptions.Panicf("kernels: CreateBuilder called on a frozen registry")
	}
	return &Builder{
		registry: r,
		def: &Definition{
			sinceVersion:    1,
			lastVersion:     VersionLast,
			typeConstraints: make(map[string][]dtypes.DType),
		},
	}
}

// Freeze marks the registry read-only. Further registration panics.
func (r *Registry) Freeze() {
	r.frozen = true
	klog.V(1).Infof("kernels: registry frozen with %d operator identities", len(r.defs))
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool { return r.frozen }

// Resolve returns the definition registered for (provider, domain, name)
// whose inclusive version range contains version. A miss is a normal
// capability signal, not an error: the caller is expected to fall back to
// another provider.
func (r *Registry) Resolve(provider, domain, name string, version int) (*Definition, bool) {
	for _, def := range r.defs[opKey{provider: provider, domain: domain, name: name}] {
		if version >= def.sinceVersion && version <= def.lastVersion {
			return def, true
		}
	}
	return nil, false
}

// register commits a completed definition, rejecting overlapping version
// ranges for the same (provider, domain, name).
func (r *Registry) register(def *Definition) error {
	if r.frozen {
		exceptions.Panicf("kernels: Register called on a frozen registry")
	}
	for _, existing := range r.defs[def.key] {
		if def.sinceVersion <= existing.lastVersion && existing.sinceVersion <= def.lastVersion {
			return errors.Errorf("kernel %s overlaps the version range of already registered %s", def, existing)
		}
	}
	r.defs[def.key] = append(r.defs[def.key], def)
	klog.V(1).Infof("kernels: registered %s (%d inputs, %d outputs)",
		def, def.sig.NumInputs(), def.sig.NumOutputs())
	return nil
}
