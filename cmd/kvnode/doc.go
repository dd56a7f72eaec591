// Command kvnode is the process bootstrap for the key-value store: it
// parses flags and environment variables, wires one node's storage
// engine, topology, coordinator, and HTTP surface together, and serves
// them.
package main
