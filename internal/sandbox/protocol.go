package sandbox

// RequestType enumerates the messages the host can send a worker, grounded
// on internal/tools/sandbox/firecracker/vsock.go's GuestRequest.Type enum.
type RequestType string

const (
	RequestCall     RequestType = "call"
	RequestHealth   RequestType = "health"
	RequestShutdown RequestType = "shutdown"
)

// HostRequest is one message from host to worker. ID is always assigned by
// the host dispatcher, never trusted from worker-originated content, per
// spec.md §9 ("never trust ids generated inside the worker").
type HostRequest struct {
	ID     uint64         `json:"id"`
	Type   RequestType    `json:"type"`
	Name   string         `json:"name,omitempty"`
	Args   map[string]any `json:"args,omitempty"`
	Timeout int64         `json:"timeout_ms,omitempty"`
}

// WorkerResponse is one message from worker to host, correlated by ID.
type WorkerResponse struct {
	ID      uint64         `json:"id"`
	OK      bool           `json:"ok"`
	Result  map[string]any `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// HostCallRequest is a worker-initiated call back into the mediated host
// API surface (send messages, read memory, schedule follow-ups).
type HostCallRequest struct {
	ID        uint64         `json:"id"`
	Namespace string         `json:"namespace"`
	Method    string         `json:"method"`
	Args      map[string]any `json:"args,omitempty"`
}

// HostCallResponse answers a HostCallRequest.
type HostCallResponse struct {
	ID     uint64         `json:"id"`
	OK     bool           `json:"ok"`
	Result map[string]any `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// envelope is the single newline-framed JSON shape multiplexing all four
// message kinds over one stdin/stdout pipe pair, discriminated by Kind.
type envelope struct {
	Kind string `json:"kind"` // "request" | "response" | "host_call" | "host_call_response"

	Request         *HostRequest      `json:"request,omitempty"`
	Response        *WorkerResponse   `json:"response,omitempty"`
	HostCall        *HostCallRequest  `json:"host_call,omitempty"`
	HostCallResponse *HostCallResponse `json:"host_call_response,omitempty"`
}
