// Package leader drives the dispatcher's lifecycle across leadership
// changes.
//
// A Process receives grant and revoke callbacks from an election runner,
// recovers persisted job graphs, asks a gateway.Factory for a service
// bound to a fresh fencing token and publishes that service only while
// the epoch that created it is still current. Services built for an
// epoch that was superseded in the meantime are terminated without ever
// becoming reachable.
package leader
