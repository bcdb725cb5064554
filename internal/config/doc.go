// Package config defines the avbguard settings and provides helpers to
// load, validate and save them in YAML format.
//
// The Config type holds the trust key path, the work directory that
// contains the backup and staging areas, the block device directory and
// the patcher selection.
package config
