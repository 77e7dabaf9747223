package partition

import "testing"

func TestSelector_StableAssignment(t *testing.T) {
	s, err := NewSelector(8)
	if err != nil {
		t.Fatalf("NewSelector: %v", err)
	}
	key := []byte("customer-42")
	first := s.BucketFor(key)
	for i := 0; i < 10; i++ {
		if got := s.BucketFor(key); got != first {
			t.Fatalf("BucketFor not stable: got %d, want %d", got, first)
		}
	}
}

func TestSelector_DistributesAcrossBuckets(t *testing.T) {
	s, _ := NewSelector(4)
	seen := map[int]bool{}
	for i := 0; i < 200; i++ {
		key := []byte{byte(i), byte(i >> 8)}
		seen[s.BucketFor(key)] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expected keys to spread across multiple buckets, got %d distinct", len(seen))
	}
}

func TestSelector_BucketRangeValid(t *testing.T) {
	s, _ := NewSelector(4)
	for i := 0; i < 50; i++ {
		b := s.BucketFor([]byte{byte(i)})
		if b < 0 || b >= s.NumBuckets() {
			t.Fatalf("bucket %d out of range [0,%d)", b, s.NumBuckets())
		}
	}
}
