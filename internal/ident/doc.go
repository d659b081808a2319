// Package ident owns session-scoped identity.
//
// Ownership boundary:
// - host tokens
// - object identifiers and their allocator
// - peer addresses used for cross-host correlation
package ident
