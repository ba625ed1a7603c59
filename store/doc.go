// Package store defines the session backend adapter and its implementations.
//
// All shared mutable auth state lives here: session records, the revoked
// token blacklist, and login-attempt counters. The Redis implementation is
// the primary backend; Memory provides an in-process fallback with identical
// observable semantics, and Failover stitches the two together so that a
// Redis outage degrades the service instead of taking it down.
package store
