// Package engine hosts player sessions and runs every inventory and crafting
// command against them. It is the only layer that mutates a Store on behalf
// of a client.
//
// ARCHITECTURAL RULE: systems never talk to each other directly. Each one
// changes domain state and appends what happened to the EventLog; the
// presentation layer and storage read the log.
package engine
