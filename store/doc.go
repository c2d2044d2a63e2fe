// Package store provides the key/value persistence used by a session to keep
// its PKCE verifier and tokens.
//
// A Store is a capability set of Get, Set and Remove over string keys and
// string values. Memory is the default and keeps records for the life of the
// process. Redis and Bolt persist records outside of the process so several
// processes (or successive runs of a CLI) can share one session. Callers may
// supply any other implementation that honours the Store contract.
package store
