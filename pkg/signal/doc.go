// ABOUTME: Package signal carries room membership and negotiation messages
// ABOUTME: Coordinator client plus the message types shared with the rendezvous
// Package signal connects a jam participant to a rendezvous service over
// one websocket.
//
// Join performs a synchronous handshake and then delivers every inbound
// message to subscribers on a single dispatch goroutine, preserving the
// order the rendezvous sent them. When the connection drops a local
// TypeDisconnected message is delivered and sends fail with
// ErrTransportUnavailable until Join or Rejoin succeeds.
//
//	c := signal.NewCoordinator(signal.Config{URL: "ws://localhost:8930/ws"})
//	c.Subscribe(signal.TypeUserJoined, onJoined)
//	self, err := c.Join(ctx, "room-1", signal.JoinPayload{Name: "ana"})
package signal
