package kernels

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// Builder accumulates one kernel registration. Obtain it from
// Registry.CreateBuilder, configure it with the fluent methods below, bind
// the implementation with Fn or Struct, and commit it with Register (or
// MustRegister). A builder is consumed by Register and must not be reused.
//
//	registry.CreateBuilder().
//		Provider("weft").Domain("ai.onnx").Name("Mul").
//		SinceVersion(7, kernels.VersionLast).
//		TypeConstraint("T", dtypes.Float32).
//		Fn(sig, mulKernel).
//		MustRegister()
type Builder struct {
	registry *Registry
	def      *Definition
	consumed bool
	err      error
}

func (b *Builder) checkLive(method string) {
	if b.consumed {
		exceptions.Panicf("kernels: Builder.%s called after the builder was consumed by Register", method)
	}
}

// Provider sets the execution-provider id.
func (b *Builder) Provider(provider string) *Builder {
	b.checkLive("Provider")
	b.def.key.provider = provider
	return b
}

// Domain sets the operator domain (empty means the default domain).
func (b *Builder) Domain(domain string) *Builder {
	b.checkLive("Domain")
	b.def.key.domain = domain
	return b
}

// Name sets the operator name. Required.
func (b *Builder) Name(name string) *Builder {
	b.checkLive("Name")
	b.def.key.name = name
	return b
}

// SinceVersion sets the inclusive opset version range served by the
// kernel. Use VersionLast as last for an open-ended range.
func (b *Builder) SinceVersion(since, last int) *Builder {
	b.checkLive("SinceVersion")
	if since < 1 || last < since {
		b.setErr(errors.Errorf("invalid version range [%d..%d]", since, last))
		return b
	}
	b.def.sinceVersion, b.def.lastVersion = since, last
	return b
}

// Alias declares that the given output may reuse the storage of the given
// input. Metadata only; the executor decides whether to honor it.
func (b *Builder) Alias(input, output int) *Builder {
	b.checkLive("Alias")
	b.def.aliases = append(b.def.aliases, [2]int{input, output})
	return b
}

// TypeConstraint declares the element types allowed for the named type
// parameter.
func (b *Builder) TypeConstraint(name string, allowed ...dtypes.DType) *Builder {
	b.checkLive("TypeConstraint")
	if len(allowed) == 0 {
		b.setErr(errors.Errorf("type constraint %q lists no allowed dtypes", name))
		return b
	}
	b.def.typeConstraints[name] = append(b.def.typeConstraints[name], allowed...)
	return b
}

// Fn binds a stateless free-function kernel with the given declared
// signature. Parameter metadata (arity, per-parameter kinds and types) is
// derived from the signature; the caller never restates it.
func (b *Builder) Fn(sig Signature, fn ComputeFunc) *Builder {
	b.checkLive("Fn")
	if fn == nil {
		b.setErr(errors.New("Fn given a nil compute function"))
		return b
	}
	if err := sig.validate(); err != nil {
		b.setErr(err)
		return b
	}
	b.def.sig = sig
	b.def.kernel = &fnKernel{sig: sig, fn: fn}
	return b
}

// Struct binds a struct kernel: factory is invoked once per operator
// occurrence, before any Compute call, with that occurrence's
// initialization metadata. The prototype signature carries the registered
// parameter metadata; an instance whose operand count depends on its
// attributes may report a different concrete Signature, which then drives
// binding.
func (b *Builder) Struct(prototype Signature, factory Factory) *Builder {
	b.checkLive("Struct")
	if factory == nil {
		b.setErr(errors.New("Struct given a nil factory"))
		return b
	}
	if err := prototype.validate(); err != nil {
		b.setErr(err)
		return b
	}
	b.def.sig = prototype
	b.def.factory = factory
	return b
}

// Register validates the accumulated definition and commits it to the
// registry, consuming the builder. Registration errors are fatal to
// backend setup: callers registering at initialization should treat a
// non-nil error as unrecoverable.
func (b *Builder) Register() (*Definition, error) {
	b.checkLive("Register")
	b.consumed = true
	if b.err != nil {
		return nil, b.err
	}
	def := b.def
	b.def = nil
	if def.key.name == "" {
		return nil, errors.New("kernel registration requires a Name")
	}
	if def.kernel == nil && def.factory == nil {
		return nil, errors.Errorf("kernel %s has no implementation bound, call Fn or Struct before Register", def)
	}
	if err := b.registry.register(def); err != nil {
		return nil, err
	}
	return def, nil
}

// MustRegister is Register for init-time use: it panics with a descriptive
// failure on any registration error.
func (b *Builder) MustRegister() *Definition {
	def, err := b.Register()
	if err != nil {
		exceptions.Panicf("kernels: registration failed: %+v", err)
	}
	return def
}

func (b *Builder) setErr(err error) {
	if b.err == nil {
		b.err = err
	}
}
