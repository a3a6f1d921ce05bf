package interfaces

// Transport is a single long-lived duplex connection to one client.
// ARCHITECTURAL DISCOVERY: registry and broadcast code only ever write JSON and
// close, so tests can substitute an in-memory fake for the websocket
type Transport interface {
	// WriteJSON must be safe for concurrent use and must preserve the order
	// of successive writes to the same transport.
	WriteJSON(v interface{}) error

	// Close releases the underlying connection. Repeated calls are no-ops.
	Close() error
}
