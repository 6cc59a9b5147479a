package videoring

import "testing"

func TestTextureQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()
	q := NewTextureQueue(2)
	q.Enqueue(1, 100)
	q.Enqueue(2, 200)
	if q.Len() != 2 {
		t.Fatalf("Len = %d, want 2", q.Len())
	}
	ref := q.Dequeue()
	if ref.Texture != 1 || ref.TimestampNS != 100 {
		t.Fatalf("unexpected first ref: %+v", ref)
	}
}

func TestTextureQueueFullDuplicatesOldest(t *testing.T) {
	t.Parallel()
	q := NewTextureQueue(1)
	first := q.Enqueue(1, 100)
	dup := q.Enqueue(2, 200)
	if dup != first {
		t.Fatal("expected duplicate of oldest entry when queue is full")
	}
	if q.Skipped() != 1 {
		t.Fatalf("Skipped = %d, want 1", q.Skipped())
	}
}

func TestTextureQueueDequeueEmpty(t *testing.T) {
	t.Parallel()
	q := NewTextureQueue(1)
	if q.Dequeue() != nil {
		t.Fatal("expected nil from empty queue")
	}
}
