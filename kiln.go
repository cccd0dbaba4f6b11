// Package kiln holds build metadata shared by the kiln binary and its servers.
package kiln

// Version is the kiln release version.
const Version = "0.1.0"
