package host

import (
	"sort"

	"go.uber.org/zap"

	"github.com/wippyai/mapstyle-bridge/errors"
)

// NativeMethod is a native implementation bound to a proxy class.
// peer is the value the proxy's handle resolves to.
type NativeMethod func(env *Env, peer any) (string, error)

// Class describes a registered proxy type.
type Class struct {
	methods map[string]NativeMethod
	name    string
	field   string
}

// Name returns the class name.
func (c *Class) Name() string { return c.name }

// Field returns the name of the handle field.
func (c *Class) Field() string { return c.field }

// Method returns a bound native method.
func (c *Class) Method(name string) (NativeMethod, bool) {
	m, ok := c.methods[name]
	return m, ok
}

// Methods returns the sorted names of all bound native methods.
func (c *Class) Methods() []string {
	names := make([]string, 0, len(c.methods))
	for name := range c.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterClass binds native methods to a proxy class.
// Each class can be registered once per runtime.
func (r *Runtime) RegisterClass(name, field string, methods map[string]NativeMethod) (*Class, error) {
	if name == "" {
		return nil, errors.InvalidInput(errors.PhaseRegister, "class name cannot be empty")
	}
	if field == "" {
		return nil, errors.Registration(name, "handle field name cannot be empty")
	}

	c := &Class{
		name:    name,
		field:   field,
		methods: make(map[string]NativeMethod, len(methods)),
	}
	for m, fn := range methods {
		if fn == nil {
			return nil, errors.Registration(name, "native method "+m+" is nil")
		}
		c.methods[m] = fn
	}

	r.classMu.Lock()
	defer r.classMu.Unlock()

	if _, exists := r.classes[name]; exists {
		return nil, errors.Registration(name, "already registered")
	}
	r.classes[name] = c

	r.log.Debug("class registered",
		zap.String("class", name),
		zap.Strings("methods", c.Methods()))
	return c, nil
}

// Class returns a registered class by name.
func (r *Runtime) Class(name string) (*Class, bool) {
	r.classMu.RLock()
	defer r.classMu.RUnlock()
	c, ok := r.classes[name]
	return c, ok
}
