// Package imagefile reads and writes partition image files.
//
// Writes go through go-update: the new content is checksummed, written next
// to the target and swapped in with a rename, so a reader never observes a
// half-written image.
package imagefile
