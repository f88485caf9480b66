package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestNilPacerUnthrottled(t *testing.T) {
	var p *Pacer
	for i := 0; i < 10; i++ {
		if err := p.Wait(context.Background()); err != nil {
			t.Fatalf("nil pacer Wait returned %v", err)
		}
	}
	p.Close() // must not panic
}

func TestNewPacerRejectsZeroRate(t *testing.T) {
	if p := NewPacer(0); p != nil {
		t.Error("rpm 0 should give a nil pacer")
	}
	if p := NewPacer(-5); p != nil {
		t.Error("negative rpm should give a nil pacer")
	}
}

func TestPacerFirstSendImmediate(t *testing.T) {
	p := NewPacer(1) // one per minute
	defer p.Close()

	start := time.Now()
	if err := p.Wait(context.Background()); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("first send waited %v, should be immediate", elapsed)
	}
}

func TestPacerSpacesSends(t *testing.T) {
	// 600 rpm = one send per 100ms.
	p := NewPacer(600)
	defer p.Close()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := p.Wait(context.Background()); err != nil {
			t.Fatalf("Wait %d failed: %v", i, err)
		}
	}
	// First is immediate; the next two each wait an interval.
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("three sends took %v, pacing not enforced", elapsed)
	}
}

func TestPacerWaitHonorsContext(t *testing.T) {
	p := NewPacer(1) // one per minute; second Wait would block for ~1m
	defer p.Close()

	if err := p.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := p.Wait(ctx)
	if err == nil {
		t.Fatal("expected context error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Wait ignored context for %v", elapsed)
	}
}

func TestPacerCloseReleasesWaiters(t *testing.T) {
	p := NewPacer(1)
	if err := p.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- p.Wait(context.Background())
	}()

	time.Sleep(20 * time.Millisecond)
	p.Close()
	p.Close() // idempotent

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Wait after Close returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not release the pending waiter")
	}
}
