// Package info renders read-only views: the AVB metadata of a single image
// and the state of the work directory.
package info
