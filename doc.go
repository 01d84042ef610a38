// Package dbus is a thin client convenience layer over the lower-level
// wire, message, transport, rpc and dispatch packages. It resolves bus
// addresses, performs the Hello handshake, and wraps the standard
// bus-owned requests (RequestName, AddMatch) that every real client
// ends up needing.
//
// The bulk of the protocol logic lives in the packages this one wires
// together: package message owns the on-wire message shape, package
// transport owns framing and fd passing, package rpc owns signal/call
// demultiplexing, and package dispatch owns routing incoming calls to
// handlers. This package does not duplicate any of that; it only
// assembles them into something a caller can use without re-deriving
// the plumbing each time a process wants to talk to the bus.
package dbus
