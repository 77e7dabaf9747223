// Package partition assigns join/aggregation keys to a stable bucket id
// using rendezvous (highest random weight) hashing, so that the mapping
// stays stable as the number of worker threads changes between runs —
// analogous to a sticky proxy assignment that should survive pool resizing
// rather than reshuffling every key.
package partition

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-rendezvous"
)

// Selector assigns keys to one of numBuckets buckets.
type Selector struct {
	rdv        *rendezvous.Rendezvous
	numBuckets int
}

// NewSelector creates a selector over numBuckets buckets, named bucket-0..N-1.
func NewSelector(numBuckets int) (*Selector, error) {
	if numBuckets <= 0 {
		return nil, fmt.Errorf("partition: numBuckets must be positive")
	}
	nodes := make([]string, numBuckets)
	for i := range nodes {
		nodes[i] = bucketName(i)
	}
	return &Selector{
		rdv:        rendezvous.New(nodes, hashString),
		numBuckets: numBuckets,
	}, nil
}

// BucketFor returns the stable bucket id for key.
func (s *Selector) BucketFor(key []byte) int {
	name := s.rdv.Lookup(string(key))
	return bucketIndex(name)
}

// NumBuckets returns the configured bucket count.
func (s *Selector) NumBuckets() int { return s.numBuckets }

func bucketName(i int) string { return fmt.Sprintf("bucket-%d", i) }

func bucketIndex(name string) int {
	var idx int
	fmt.Sscanf(name, "bucket-%d", &idx)
	return idx
}

func hashString(s string) uint64 { return xxhash.Sum64String(s) }
