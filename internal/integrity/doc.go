// Package integrity applies the AVB verifier to whole partition sets:
// both slots of a device dump, or the output of a rebuild.
package integrity
