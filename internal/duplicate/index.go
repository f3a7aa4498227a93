package duplicate

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/coder/hnsw"

	"github.com/kozaktomas/meter-lab/internal/database"
	"github.com/kozaktomas/meter-lab/internal/fingerprint"
)

// HNSW graph parameters for perceptual hash vectors.
const (
	hnswMaxNeighbors = 16
	hnswEfSearch     = 64
)

// Neighbor is an indexed photo with its exact Hamming distance to a query.
type Neighbor struct {
	Photo    database.Photo
	Distance int
}

// Index is an in-memory HNSW graph over reference photos' perceptual hashes.
// Squared Euclidean distance between the 0/1 vectors is the Hamming distance.
type Index struct {
	graph *hnsw.Graph[string]
	byID  map[string]database.Photo
	mu    sync.RWMutex
}

// NewIndex creates a new empty index.
func NewIndex() *Index {
	return &Index{
		byID: make(map[string]database.Photo),
	}
}

func newGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = hnswMaxNeighbors
	g.Ml = 1.0 / float64(hnswMaxNeighbors)
	g.EfSearch = hnswEfSearch
	g.Distance = hnsw.EuclideanDistance
	return g
}

// Build replaces the index contents with photos. Photos without a
// perceptual hash are skipped.
func (i *Index) Build(photos []database.Photo) error {
	g := newGraph()
	byID := make(map[string]database.Photo, len(photos))

	for _, p := range photos {
		if p.PerceptualHash == "" {
			continue
		}
		vec, err := fingerprint.Vector(p.PerceptualHash)
		if err != nil {
			return fmt.Errorf("photo %s: %w", p.ID, err)
		}
		g.Add(hnsw.MakeNode(p.ID, vec))
		byID[p.ID] = p
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	i.graph = g
	i.byID = byID
	return nil
}

// Add adds a single photo to the index.
func (i *Index) Add(p database.Photo) error {
	if p.PerceptualHash == "" {
		return nil
	}
	vec, err := fingerprint.Vector(p.PerceptualHash)
	if err != nil {
		return fmt.Errorf("photo %s: %w", p.ID, err)
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.graph == nil {
		i.graph = newGraph()
	}
	if _, ok := i.byID[p.ID]; ok {
		i.graph.Delete(p.ID)
	}
	i.graph.Add(hnsw.MakeNode(p.ID, vec))
	i.byID[p.ID] = p
	return nil
}

// Delete removes a photo from the index.
func (i *Index) Delete(id string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.byID[id]; !ok {
		return
	}
	delete(i.byID, id)
	if i.graph != nil {
		i.graph.Delete(id)
	}
}

// Count returns the number of indexed photos.
func (i *Index) Count() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.byID)
}

// Search returns up to k indexed photos closest to hash, nearest first.
func (i *Index) Search(hash string, k int) ([]Neighbor, error) {
	query, err := fingerprint.Vector(hash)
	if err != nil {
		return nil, err
	}

	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.graph == nil || len(i.byID) == 0 {
		return nil, errors.New("index not initialized")
	}

	nodes := i.graph.Search(query, k)
	out := make([]Neighbor, 0, len(nodes))
	for _, n := range nodes {
		p, ok := i.byID[n.Key]
		if !ok {
			continue
		}
		d, err := fingerprint.HammingDistance(hash, p.PerceptualHash)
		if err != nil {
			continue
		}
		out = append(out, Neighbor{Photo: p, Distance: d})
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Distance < out[b].Distance })
	return out, nil
}

// Rank reorders refs so indexed photos closest to hash come first, followed
// by the remaining refs in their original order.
func (i *Index) Rank(hash string, refs []database.Photo) []database.Photo {
	neighbors, err := i.Search(hash, len(refs))
	if err != nil || len(neighbors) == 0 {
		return refs
	}

	inRefs := make(map[string]int, len(refs))
	for pos, r := range refs {
		inRefs[r.ID] = pos
	}

	out := make([]database.Photo, 0, len(refs))
	taken := make(map[string]bool, len(neighbors))
	for _, n := range neighbors {
		pos, ok := inRefs[n.Photo.ID]
		if !ok || taken[n.Photo.ID] {
			continue
		}
		out = append(out, refs[pos])
		taken[n.Photo.ID] = true
	}
	for _, r := range refs {
		if !taken[r.ID] {
			out = append(out, r)
		}
	}
	return out
}
