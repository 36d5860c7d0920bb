package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type fakePurger struct {
	calls atomic.Int32
	err   error
}

func (f *fakePurger) PurgeExpired(ctx context.Context) (int64, error) {
	f.calls.Add(1)
	return 1, f.err
}

func TestNewPruner_Interval(t *testing.T) {
	tests := []struct {
		ttl  time.Duration
		want time.Duration
	}{
		{ttl: 0, want: time.Minute},
		{ttl: 5 * time.Minute, want: time.Minute},
		{ttl: 100 * time.Minute, want: 10 * time.Minute},
		{ttl: 48 * time.Hour, want: time.Hour},
	}
	for _, tt := range tests {
		p := NewPruner(&fakePurger{}, tt.ttl, nil)
		if got := p.Interval(); got != tt.want {
			t.Errorf("ttl %v: interval = %v, want %v", tt.ttl, got, tt.want)
		}
	}
}

func TestPruner_StartPrunesImmediately(t *testing.T) {
	f := &fakePurger{err: errors.New("db down")}
	p := NewPruner(f, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for f.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if f.calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", f.calls.Load())
	}
}
