// Package verify checks a six-partition set against the pinned trust root
// without changing anything on disk or on the device.
package verify
