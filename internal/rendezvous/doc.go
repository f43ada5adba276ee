// ABOUTME: Package rendezvous is the room and signaling relay service
// ABOUTME: Clients join rooms over a websocket and exchange session negotiation
// Package rendezvous relays signaling between participants of a room.
//
// The service never touches audio. It admits participants into rooms,
// tells each newcomer who is already present, forwards addressed offers,
// answers and candidates to their recipient, and fans out chat and
// instrument changes. Room metadata comes from a Directory and live
// membership is mirrored into a Presence store, both of which may be
// backed by Redis so several nodes can share a room directory.
package rendezvous
