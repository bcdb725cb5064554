// Package blockdev reads and writes fixed-size partitions addressed by their
// per-slot name. Capacity is always queried from the device, never assumed.
//
// Regular files are accepted wherever a block device is, which keeps the
// package usable against dumped images and in tests.
package blockdev
