// Package patcher transforms an unsigned boot payload before it is
// re-signed. The tool doing the work, usually a root solution, is opaque:
// only the resulting image is checked, through the signature chain.
package patcher
