package core

import "errors"

// Sentinel errors, wrapped with fmt.Errorf("...: %w") and matched with errors.Is.
var (
	// Ingest errors. Both are non-fatal and stay local to the node.
	ErrMalformedPayload     = errors.New("meshtel: malformed payload")
	ErrSourceTableExhausted = errors.New("meshtel: source table exhausted")

	// Sensor errors
	ErrAddressResolution = errors.New("meshtel: address resolution failure")

	// Mesh routing errors
	ErrRootUnavailable = errors.New("meshtel: root registration unavailable")

	// Transport errors
	ErrTransportClosed = errors.New("meshtel: transport closed")

	// Configuration errors
	ErrConfigInvalid = errors.New("meshtel: invalid configuration")
)
