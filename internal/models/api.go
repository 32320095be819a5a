package models

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// EngineLifecycle describes the transport/engine connection state exposed on
// the control surface.
type EngineLifecycle string

const (
	// LifecycleDisconnected means no engine is running.
	LifecycleDisconnected EngineLifecycle = "disconnected"
	// LifecycleGeneratingQR means the engine is starting and a QR code is being produced.
	LifecycleGeneratingQR EngineLifecycle = "generating_qr"
	// LifecycleWaitingScan means a QR code is available and awaiting pairing.
	LifecycleWaitingScan EngineLifecycle = "waiting_scan"
	// LifecycleConnected means the transport is paired and the engine is processing messages.
	LifecycleConnected EngineLifecycle = "connected"
)

// EngineStatus is the introspection payload returned by GET /status.
type EngineStatus struct {
	Lifecycle    EngineLifecycle   `json:"lifecycle"`
	Role         string            `json:"role,omitempty"`
	Domains      []Domain          `json:"domains,omitempty"`
	QR           string            `json:"qr,omitempty"`
	States       map[StateType]int `json:"states,omitempty"`
	LastActivity int64             `json:"last_activity,omitempty"`
}

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
