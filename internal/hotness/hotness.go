// Package hotness tracks page accesses and ranks cache pages by
// recency-weighted access frequency.
package hotness

type Interface interface {
	Inc(page string)
	Snapshot() (counts, lastAccess map[string]float64)
	Reset(pages ...string)
}
