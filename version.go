package eventstream

// InstrumentationVersion is reported by the otel decorators.
const InstrumentationVersion = "0.3.0"
