package hal

// Context is an opaque saved execution state owned by a CPU.
//
// The kernel never looks inside a Context; it only hands contexts back to the
// CPU that created them.
type Context interface{}

// InterruptState is the interrupt mask observed by DisableInterrupts.
// True means interrupts were already masked.
type InterruptState bool

// CPU is the execution-state and interrupt contract consumed by the kernel.
type CPU interface {
	// BootContext adopts the calling flow as a context. The returned context
	// is live: it is the one currently executing.
	BootContext() Context

	// NewContext builds a saved state that calls entry when first resumed.
	// entry must never return; it leaves by switching away with a nil from.
	NewContext(entry func()) Context

	// SwitchTo saves the live state into from and resumes to. It returns
	// when from is resumed again. With a nil from the caller's state is
	// discarded and SwitchTo never returns.
	SwitchTo(from, to Context)

	// Release discards a saved state that will never be resumed.
	Release(c Context)

	DisableInterrupts() InterruptState
	RestoreInterrupts(s InterruptState)

	// Idle waits, with interrupts enabled, until one interrupt has been
	// serviced. It reports false when no interrupt can ever arrive.
	Idle() bool

	// NewInterruptLine registers an interrupt source.
	NewInterruptLine(name string) InterruptLine
}

// InterruptLine is a source of asynchronous events.
//
// Raise may be called from any goroutine. The handler runs later, on the CPU,
// with interrupts masked.
type InterruptLine interface {
	Name() string
	Raise(handler func()) bool
	Close()
}
