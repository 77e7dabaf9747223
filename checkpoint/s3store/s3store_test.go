package s3store

import (
	"context"
	"testing"
)

func TestNew_RequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Config{})
	if err == nil {
		t.Fatal("expected error when Bucket is empty")
	}
}
