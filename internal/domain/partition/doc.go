// Package partition contains the core domain types for boot-chain partitions.
//
// It defines the partition kinds and A/B slots managed by the tool, the
// immutable Image captured from a device or file, and Set, the collection of
// images keyed by partition and slot.
package partition
