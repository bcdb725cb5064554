// Package slot works out which A/B slot the device is running from.
//
// Detection is a chain of independent probes tried in order until one
// answers: an explicit configuration value, the ro.boot.slot_suffix
// property, the kernel command line, and bootctl.
package slot
