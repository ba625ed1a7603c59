// Package authkit is the authentication core of the helpdesk service: a
// session manager orchestrating stateless JWTs (token), a revocable
// server-side session registry (store), password policy and hashing
// (password), and asynchronous security auditing (audit).
//
// A token is only accepted when three independent checks pass: the signature
// and expiry verify, the token is not blacklisted, and its session still
// exists in the store. Logout, password change, and session revocation all
// work by destroying the server-side half, which makes otherwise stateless
// tokens revocable.
//
// Construct a Manager with New, wire it to HTTP with the middleware and
// httpapi packages, and stop it with Close.
package authkit
