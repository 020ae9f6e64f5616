package dedup

import (
	"bytes"
	"slices"

	"github.com/google/uuid"
)

// disjointSet groups ids connected by matched pairs.
type disjointSet struct {
	parent map[uuid.UUID]uuid.UUID
	rank   map[uuid.UUID]int
}

func newDisjointSet() *disjointSet {
	return &disjointSet{parent: map[uuid.UUID]uuid.UUID{}, rank: map[uuid.UUID]int{}}
}

func (d *disjointSet) find(id uuid.UUID) uuid.UUID {
	parent, ok := d.parent[id]
	if !ok {
		d.parent[id] = id
		return id
	}
	if parent == id {
		return id
	}
	root := d.find(parent)
	d.parent[id] = root
	return root
}

func (d *disjointSet) union(a, b uuid.UUID) {
	ra, rb := d.find(a), d.find(b)
	if ra == rb {
		return
	}
	switch {
	case d.rank[ra] < d.rank[rb]:
		d.parent[ra] = rb
	case d.rank[ra] > d.rank[rb]:
		d.parent[rb] = ra
	default:
		d.parent[rb] = ra
		d.rank[ra]++
	}
}

// groups returns every set with at least two members. Members are sorted by id and groups by
// their first member so the output does not depend on the order pairs were added.
func (d *disjointSet) groups() [][]uuid.UUID {
	byRoot := map[uuid.UUID][]uuid.UUID{}
	for id := range d.parent {
		root := d.find(id)
		byRoot[root] = append(byRoot[root], id)
	}

	out := make([][]uuid.UUID, 0, len(byRoot))
	for _, members := range byRoot {
		if len(members) < 2 {
			continue
		}
		slices.SortFunc(members, compareIDs)
		out = append(out, members)
	}
	slices.SortFunc(out, func(a, b []uuid.UUID) int { return compareIDs(a[0], b[0]) })
	return out
}

func compareIDs(a, b uuid.UUID) int {
	return bytes.Compare(a[:], b[:])
}
