package chathub

// Client is a long-lived streaming connection bound to one subscription.
// It abstracts the underlying transport so the hub and handlers can manage
// connections uniformly.
type Client interface {
	// GetUserID returns the identity that opened the connection.
	GetUserID() string
	// GetRoomID returns the room of a room-mode connection, "" in global mode.
	GetRoomID() string

	// Run starts the read and write pumps.
	Run()
	// Close stops the connection and releases its subscription.
	Close()
}
