// Package password provides the credential input filter for the auth
// subsystem: strength validation with a 0-5 score, bcrypt hashing and
// verification, and secure random password generation for account seeding.
package password
