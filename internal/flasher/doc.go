// Package flasher writes a batch of signed images to their partitions.
//
// The whole batch is checked against queried capacities before the first
// write. Writes are sequential; the first failure stops the batch and
// nothing is retried or rolled back.
package flasher
