package engine

import (
	"context"
	"errors"
	"testing"
)

func TestAdmissionRejectsWhenBusy(t *testing.T) {
	started := make(chan *Job, 4)
	release := make(chan struct{})
	pub := NewMemoryPublisher(0)
	h := openFake(t, &fakeBackend{gen: blockGen(started, release)}, func(c *Config) {
		c.MaxQueuedBatches = 0
		c.Publisher = pub
	})
	first, err := h.GenerateAsync(testCtx(t), batchOf([]string{"a"}), 0, BatchExamples, defaultOpts(), nil)
	if err != nil {
		t.Fatalf("first call rejected: %v", err)
	}
	<-started
	if h.NumActiveBatches() != 1 {
		t.Fatalf("expected one active batch, got %d", h.NumActiveBatches())
	}
	_, err = h.Generate(testCtx(t), batchOf([]string{"b"}), 0, BatchExamples, defaultOpts())
	if !IsOverloaded(err) {
		t.Fatalf("expected overloaded, got %v", err)
	}
	if h.Status().OverloadedTotal != 1 || pub.Count(EventOverloaded) != 1 {
		t.Fatalf("overload not recorded: %+v", h.Status())
	}
	close(release)
	if _, err := first.Wait(testCtx(t)); err != nil {
		t.Fatalf("first call: %v", err)
	}
	waitFor(t, "replica idle", func() bool { return h.NumActiveBatches() == 0 })
	if _, err := h.Generate(testCtx(t), batchOf([]string{"c"}), 0, BatchExamples, defaultOpts()); err != nil {
		t.Fatalf("call after drain: %v", err)
	}
}

func TestAdmissionBoundCountsIdleReplicas(t *testing.T) {
	started := make(chan *Job, 8)
	release := make(chan struct{})
	h := openFake(t, &fakeBackend{gen: blockGen(started, release)}, func(c *Config) {
		c.InterThreads = 2
		c.MaxQueuedBatches = 1
	})
	defer close(release)
	// Three jobs fit: two idle replicas plus one queued slot.
	if _, err := h.GenerateAsync(testCtx(t), batchOf([]string{"a"}, []string{"b"}, []string{"c"}), 1, BatchExamples, defaultOpts(), nil); err != nil {
		t.Fatalf("admission: %v", err)
	}
	<-started
	<-started
	if h.NumQueuedBatches() != 1 {
		t.Fatalf("expected one queued job, got %d", h.NumQueuedBatches())
	}
	if _, err := h.GenerateAsync(testCtx(t), batchOf([]string{"d"}), 0, BatchExamples, defaultOpts(), nil); !IsOverloaded(err) {
		t.Fatalf("expected overloaded, got %v", err)
	}
}

func TestAdmissionUnboundedQueue(t *testing.T) {
	h := openFake(t, &fakeBackend{}, nil)
	inputs := make([][]string, 50)
	for i := range inputs {
		inputs[i] = []string{"x"}
	}
	res, err := h.Generate(testCtx(t), batchOf(inputs...), 1, BatchExamples, defaultOpts())
	if err != nil || len(res) != 50 {
		t.Fatalf("unbounded queue: %d results, %v", len(res), err)
	}
	if h.Status().BatchesTotal != 50 {
		t.Fatalf("batches total %d", h.Status().BatchesTotal)
	}
}

func TestQueueIsFIFO(t *testing.T) {
	started := make(chan *Job, 8)
	release := make(chan struct{})
	h := openFake(t, &fakeBackend{gen: blockGen(started, release)}, nil)
	var pending []*AsyncResult
	for _, tok := range []string{"first", "second", "third"} {
		ar, err := h.GenerateAsync(testCtx(t), batchOf([]string{tok}), 0, BatchExamples, defaultOpts(), nil)
		if err != nil {
			t.Fatal(err)
		}
		pending = append(pending, ar)
		if tok == "first" {
			<-started
		}
	}
	waitFor(t, "two queued jobs", func() bool { return h.NumQueuedBatches() == 2 })
	close(release)
	order := []string{(<-started).Inputs[0][0], (<-started).Inputs[0][0]}
	if order[0] != "second" || order[1] != "third" {
		t.Fatalf("jobs ran out of order: %v", order)
	}
	for _, ar := range pending {
		if _, err := ar.Wait(testCtx(t)); err != nil {
			t.Fatal(err)
		}
	}
}

func TestCancelWhileQueued(t *testing.T) {
	started := make(chan *Job, 8)
	release := make(chan struct{})
	h := openFake(t, &fakeBackend{gen: blockGen(started, release)}, nil)
	first, err := h.GenerateAsync(testCtx(t), batchOf([]string{"a"}), 0, BatchExamples, defaultOpts(), nil)
	if err != nil {
		t.Fatal(err)
	}
	<-started
	ctx, cancel := context.WithCancel(testCtx(t))
	batch := batchOf([]string{"b"}, []string{"c"})
	queued, err := h.GenerateAsync(ctx, batch, 1, BatchExamples, defaultOpts(), nil)
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, "queued jobs", func() bool { return h.NumQueuedBatches() == 2 })
	cancel()
	if _, err := queued.Wait(testCtx(t)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if h.NumQueuedBatches() != 0 {
		t.Fatalf("cancelled jobs still queued: %d", h.NumQueuedBatches())
	}
	waitFor(t, "buffer released", func() bool { return !batch.Borrowed() })
	close(release)
	if _, err := first.Wait(testCtx(t)); err != nil {
		t.Fatalf("first call: %v", err)
	}
}

func TestCancelWhileDecoding(t *testing.T) {
	started := make(chan *Job, 1)
	h := openFake(t, &fakeBackend{gen: blockGen(started, nil)}, nil)
	ctx, cancel := context.WithCancel(testCtx(t))
	ar, err := h.GenerateAsync(ctx, batchOf([]string{"a"}), 0, BatchExamples, defaultOpts(), nil)
	if err != nil {
		t.Fatal(err)
	}
	<-started
	cancel()
	if _, err := ar.Wait(testCtx(t)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	waitFor(t, "replica idle", func() bool { return h.NumActiveBatches() == 0 })
}

func TestBufferBorrowedDuringCall(t *testing.T) {
	started := make(chan *Job, 1)
	release := make(chan struct{})
	h := openFake(t, &fakeBackend{gen: blockGen(started, release)}, nil)
	batch := batchOf([]string{"a"})
	ar, err := h.GenerateAsync(testCtx(t), batch, 0, BatchExamples, defaultOpts(), nil)
	if err != nil {
		t.Fatal(err)
	}
	<-started
	func() {
		defer func() {
			if recover() == nil {
				t.Errorf("PushBack on a borrowed buffer did not panic")
			}
		}()
		batch.PushBack([]string{"b"})
	}()
	close(release)
	if _, err := ar.Wait(testCtx(t)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "buffer released", func() bool { return !batch.Borrowed() })
	batch.PushBack([]string{"b"})
	if batch.Len() != 2 {
		t.Fatalf("buffer len %d", batch.Len())
	}
}

func TestCloseDrainsQueuedJobs(t *testing.T) {
	b := &fakeBackend{gen: echoGen(2)}
	cfg := Config{ModelPath: "fake", InterThreads: 1, MaxQueuedBatches: -1, Backend: b}
	h, err := Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	var pending []*AsyncResult
	for i := 0; i < 5; i++ {
		ar, err := h.GenerateAsync(testCtx(t), batchOf([]string{"x"}), 0, BatchExamples, defaultOpts(), nil)
		if err != nil {
			t.Fatal(err)
		}
		pending = append(pending, ar)
	}
	if err := h.Close(); err != nil {
		t.Fatal(err)
	}
	for i, ar := range pending {
		res, err := ar.Wait(testCtx(t))
		if err != nil || len(res) != 1 || len(res[0].Tokens) != 3 {
			t.Fatalf("call %d after close: %v, %v", i, res, err)
		}
	}
}
