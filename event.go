package eventcore

import "fmt"

// ResourceType is the closed set of event/resource categories the core
// understands. It indexes both a module's dispatcher vector and its
// resource-count vector.
type ResourceType uint32

const (
	// ResourceTimer tags events and counters for armed timers.
	ResourceTimer ResourceType = iota
	// ResourceGPIO tags events and counters for claimed GPIO lines.
	ResourceGPIO
	// ResourceSensor tags events and counters for opened sensor channels.
	ResourceSensor

	// resourceTypeCount must stay last; it sizes every per-type vector.
	resourceTypeCount
)

func (t ResourceType) String() string {
	switch t {
	case ResourceTimer:
		return "timer"
	case ResourceGPIO:
		return "gpio"
	case ResourceSensor:
		return "sensor"
	default:
		return fmt.Sprintf("resource(%d)", uint32(t))
	}
}

// valid reports whether t falls within the closed resource-type range.
func (t ResourceType) valid() bool {
	return t < resourceTypeCount
}

// ModuleHandle is the opaque identity of a registered guest module. It is
// caller-supplied: the handle a producer or embedder already holds for an
// instantiated guest module instance. Equality is by identity, matching the
// C side's wasm_module_inst_t pointer comparison, so handles are typically
// pointers (e.g. a value the embedder allocates once per module, as
// cmd/eventcored does).
type ModuleHandle any

// Event is the fixed-shape record the queue transports. Only the fields
// relevant to Type are semantically live; the rest are left zero-valued by
// convention, mirroring the C wasm_event_t's "unused fields are zero-filled"
// rule.
type Event struct {
	// Owner is the target module for this event, supplied by the producer
	// at post time. This is the §9 fix: target selection reads this field,
	// never the ambient current-module pointer.
	Owner ModuleHandle

	Type ResourceType

	// ID is the resource-specific identifier: timer id, pin number, or
	// sensor id depending on Type.
	ID uint32

	// Port is the auxiliary channel, meaningful only for Sensor events.
	Port uint32

	// State is the scalar payload: GPIO level or sensor reading.
	State uint32
}

// args returns the guest-call argument list for e, marshalled per §4.4's
// per-type argument convention.
func (e Event) args() []uint64 {
	switch e.Type {
	case ResourceTimer:
		return []uint64{uint64(e.ID)}
	case ResourceGPIO:
		return []uint64{uint64(e.ID), uint64(e.State)}
	case ResourceSensor:
		return []uint64{uint64(e.ID), uint64(e.Port), uint64(e.State)}
	default:
		return nil
	}
}
