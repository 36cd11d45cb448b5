package threading

import (
	"sort"

	"storyline/internal/embedding"
	"storyline/internal/logger"

	"gonum.org/v1/gonum/graph/community"
	"gonum.org/v1/gonum/graph/simple"
)

// Group partitions unmatched articles into clusters of mutually similar ones.
// Pairs at or above minSimilarity become weighted edges and Louvain community
// detection splits the graph; articles without an edge end up alone. Groups are
// returned largest first, members in input order.
func Group(ids []string, vectors map[string][]float64, minSimilarity, resolution float64) [][]string {
	if len(ids) == 0 {
		return nil
	}
	if resolution <= 0 {
		resolution = 1.0
	}

	g := simple.NewWeightedUndirectedGraph(0, 0)
	for i := range ids {
		g.AddNode(simple.Node(int64(i)))
	}
	edges := 0
	for i := range ids {
		for j := i + 1; j < len(ids); j++ {
			sim := embedding.CosineSimilarity(vectors[ids[i]], vectors[ids[j]])
			if sim < minSimilarity {
				continue
			}
			g.SetWeightedEdge(simple.WeightedEdge{F: simple.Node(int64(i)), T: simple.Node(int64(j)), W: sim})
			edges++
		}
	}

	if edges == 0 {
		out := make([][]string, len(ids))
		for i, id := range ids {
			out[i] = []string{id}
		}
		return out
	}

	communities := community.Modularize(g, resolution, nil).Communities()
	logger.Debug("Grouped unmatched articles", "articles", len(ids), "edges", edges,
		"groups", len(communities), "modularity", community.Q(g, communities, resolution))

	groups := make([][]string, 0, len(communities))
	for _, comm := range communities {
		idx := make([]int, 0, len(comm))
		for _, n := range comm {
			idx = append(idx, int(n.ID()))
		}
		sort.Ints(idx)
		members := make([]string, len(idx))
		for k, i := range idx {
			members[k] = ids[i]
		}
		groups = append(groups, members)
	}
	sort.SliceStable(groups, func(i, j int) bool {
		if len(groups[i]) != len(groups[j]) {
			return len(groups[i]) > len(groups[j])
		}
		return position(ids, groups[i][0]) < position(ids, groups[j][0])
	})
	return groups
}

func position(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return len(ids)
}
