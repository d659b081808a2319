// Package distributed is the replication core: owned and proxy objects, the
// routing rules between them, generic registration of message kinds, and the
// Host that pumps envelopes through a transport.
//
// Every method on Host and on the objects it manages must be called from the
// goroutine that calls Host.PollEvents. Nothing here locks.
//
// Ownership boundary:
// - object identity and owner/proxy role
// - reliable request forwarding and owner fan-out
// - broadcast staleness per object and message kind
// - proxy instantiation from Create envelopes
package distributed
