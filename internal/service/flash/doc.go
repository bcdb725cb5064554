// Package flash writes a rebuilt slot to the block devices after checking
// it once more against the trust root and the partition capacities.
package flash
