package concurrency

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestWriterHandleAppliesInSubmissionOrder(t *testing.T) {
	w := NewWriterHandle(4)
	defer w.Close()

	var order []int
	for i := 0; i < 20; i++ {
		i := i
		if err := w.Submit(context.Background(), func() error {
			order = append(order, i)
			return nil
		}); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	if len(order) != 20 {
		t.Fatalf("expected 20 applied jobs, got %d", len(order))
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("expected in-order application, got %v", order)
		}
	}
}

func TestWriterHandleSerializesConcurrentSubmissions(t *testing.T) {
	w := NewWriterHandle(8)
	defer w.Close()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := w.Submit(context.Background(), func() error {
				counter++
				return nil
			})
			if err != nil {
				t.Errorf("submit: %v", err)
			}
		}()
	}
	wg.Wait()

	if counter != 200 {
		t.Fatalf("expected counter=200 with serialized access, got %d", counter)
	}
}

func TestWriterHandleCancellationSkipsExecution(t *testing.T) {
	w := NewWriterHandle(0)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	err := w.Submit(ctx, func() error {
		ran = true
		return nil
	})
	if err == nil {
		t.Fatalf("expected error for canceled context")
	}
	if ran {
		t.Fatalf("fn must not run once its context was already canceled")
	}
}

func TestWriterHandlePropagatesJobError(t *testing.T) {
	w := NewWriterHandle(0)
	defer w.Close()

	sentinel := errSentinel{}
	err := w.Submit(context.Background(), func() error { return sentinel })
	if err != sentinel {
		t.Fatalf("expected sentinel error, got %v", err)
	}
}

type errSentinel struct{}

func (errSentinel) Error() string { return "sentinel" }

func TestWriterHandleSubmitAfterCloseFails(t *testing.T) {
	w := NewWriterHandle(0)
	w.Close()

	err := w.Submit(context.Background(), func() error { return nil })
	if err == nil {
		t.Fatalf("expected error submitting to a closed writer handle")
	}
}

func TestWriterHandleRespectsTimeout(t *testing.T) {
	w := NewWriterHandle(0)
	defer w.Close()

	block := make(chan struct{})
	go w.Submit(context.Background(), func() error {
		<-block
		return nil
	})
	// Laisse le premier job occuper la boucle de dispatch.
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := w.Submit(ctx, func() error { return nil })
	if err == nil {
		t.Fatalf("expected timeout error while the handle is busy")
	}
	close(block)
}
