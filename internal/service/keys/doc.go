// Package keys creates the trust key and exports its public half in the AVB
// format expected by bootloaders that accept a user key.
package keys
