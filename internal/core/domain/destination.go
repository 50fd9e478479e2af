package domain

// DestinationKey is the pair (Socket Address, Protocol Tag) used as the
// router's map key. Every Bound Service corresponds to exactly one
// Destination Key.
type DestinationKey struct {
	Addr     SocketAddress
	Protocol ProtocolTag
}

// NewDestinationKey builds a Destination Key from an address and tag.
func NewDestinationKey(addr SocketAddress, protocol ProtocolTag) DestinationKey {
	return DestinationKey{Addr: addr, Protocol: protocol}
}

// RequiresWatch reports whether this key's endpoints are managed by a
// discovery Watch (true for HTTP/*) or resolved directly against the
// original destination (TCP).
func (k DestinationKey) RequiresWatch() bool {
	return k.Protocol.IsHTTP()
}

func (k DestinationKey) String() string {
	return k.Addr.String() + "/" + k.Protocol.String()
}
