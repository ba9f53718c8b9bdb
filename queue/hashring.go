package queue

import (
	"fmt"
	"sort"
)

// fnvHash32 is 32-bit FNV-1a (xor each byte in, then multiply by the
// FNV prime), written out inline for the flyweight ring.
func fnvHash32(s string) uint32 {
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

// ringEntry is one virtual-node point on the consistent-hash ring.
type ringEntry struct {
	hash uint32
	node Node
}

// hashRing is a consistent-hash ring over eligible nodes, weighted by
// max(NumExecutors, 1) * 100 virtual points each (§4.7 step 1). The
// master node, when supplied, is always included.
type hashRing struct {
	entries []ringEntry
}

const flyweightWeightUnit = 100

// buildHashRing constructs a ring over nodes plus an optional master
// node. Nodes are deduplicated by ID.
func buildHashRing(nodes []Node, master Node) *hashRing {
	seen := make(map[string]bool)
	all := make([]Node, 0, len(nodes)+1)
	for _, n := range nodes {
		if n == nil || seen[n.ID()] {
			continue
		}
		seen[n.ID()] = true
		all = append(all, n)
	}
	if master != nil && !seen[master.ID()] {
		all = append(all, master)
	}

	r := &hashRing{}
	for _, n := range all {
		weight := n.NumExecutors()
		if weight < 1 {
			weight = 1
		}
		weight *= flyweightWeightUnit
		for i := 0; i < weight; i++ {
			key := fmt.Sprintf("%s-%d", n.ID(), i)
			r.entries = append(r.entries, ringEntry{hash: fnvHash32(key), node: n})
		}
	}
	sort.Slice(r.entries, func(i, j int) bool { return r.entries[i].hash < r.entries[j].hash })
	return r
}

// walk returns the ring's nodes in the order a lookup for key would
// visit them: starting at the first entry whose hash is >= hash(key),
// wrapping around, and skipping repeats of the same node so each
// distinct node appears once.
func (r *hashRing) walk(key string) []Node {
	if len(r.entries) == 0 {
		return nil
	}
	h := fnvHash32(key)
	start := sort.Search(len(r.entries), func(i int) bool { return r.entries[i].hash >= h })

	out := make([]Node, 0, len(r.entries))
	seen := make(map[string]bool)
	for i := 0; i < len(r.entries); i++ {
		e := r.entries[(start+i)%len(r.entries)]
		if seen[e.node.ID()] {
			continue
		}
		seen[e.node.ID()] = true
		out = append(out, e.node)
	}
	return out
}
