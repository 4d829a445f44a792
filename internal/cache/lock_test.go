package cache

import (
	"context"
	"testing"
	"time"
)

func TestLockExcludesConcurrentHolder(t *testing.T) {
	dir := t.TempDir()

	unlock1, err := Lock(context.Background(), dir, time.Second)
	if err != nil {
		t.Fatalf("first lock: %v", err)
	}
	defer unlock1()

	_, err = Lock(context.Background(), dir, 50*time.Millisecond)
	if err != ErrLockTimeout {
		t.Fatalf("expected ErrLockTimeout while held, got %v", err)
	}
}

func TestLockReacquiredAfterUnlock(t *testing.T) {
	dir := t.TempDir()

	unlock1, err := Lock(context.Background(), dir, time.Second)
	if err != nil {
		t.Fatalf("first lock: %v", err)
	}
	unlock1()

	unlock2, err := Lock(context.Background(), dir, time.Second)
	if err != nil {
		t.Fatalf("second lock after release: %v", err)
	}
	unlock2()
}
