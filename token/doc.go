// Package token implements the signing core of the auth subsystem: issuance
// and verification of access and refresh JWTs.
//
// The engine is deliberately stateless. It never touches the session store or
// the blacklist; a token that verifies here is only cryptographically valid,
// and the session manager layers revocation checks on top.
package token
