// Package discovery finds jam rendezvous services on the local network
// over mDNS, so a client started without a rendezvous URL can still join.
package discovery
