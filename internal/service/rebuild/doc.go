// Package rebuild patches one boot-chain leaf of the target slot and
// re-signs the slot with the pinned key. Output lands in patched_signed and
// is verified before it is written.
package rebuild
