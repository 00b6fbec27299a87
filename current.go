package eventcore

import "context"

// currentModuleKey is the context key used to carry the ambient
// current-module handle across a guest invocation. This is the Go-idiomatic
// replacement for a per-thread TLS slot: guestengine/wazero hands the
// context given to Call on to host function callbacks such as get_event,
// so a value attached here reaches them.
type currentModuleKey struct{}

// withCurrentModule returns a context carrying handle as the ambient
// current-module reference. It must be derived immediately before a guest
// call and discarded (by letting the derived context fall out of scope)
// immediately after the call returns, on every exit path.
func withCurrentModule(ctx context.Context, handle ModuleHandle) context.Context {
	return context.WithValue(ctx, currentModuleKey{}, handle)
}

// CurrentModule returns the module handle whose dispatcher is presently
// executing on ctx's call stack, or nil if ctx was not derived from a
// dispatch invocation. Guest-callable host functions use this to discover
// their caller without threading an explicit parameter through every export.
func CurrentModule(ctx context.Context) ModuleHandle {
	h, _ := ctx.Value(currentModuleKey{}).(ModuleHandle)
	return h
}
