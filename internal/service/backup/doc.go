// Package backup captures the six boot-chain partitions and promotes them
// to the canonical baseline once they differ from it and pass verification.
package backup
