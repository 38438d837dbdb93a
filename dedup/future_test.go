package dedup

import (
	"context"
	"errors"
	"testing"
)

func TestFuture_ThenRunsBeforeDone(t *testing.T) {
	f := newFuture()
	var order []string
	f.Then(func(any, error) {
		select {
		case <-f.Done():
			t.Error("Done closed before Then callback")
		default:
		}
		order = append(order, "first")
	})
	f.Then(func(any, error) { order = append(order, "second") })

	f.resolve("v", nil)
	<-f.Done()

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("callback order = %v, want [first second]", order)
	}
}

func TestFuture_SettlesOnce(t *testing.T) {
	f := newFuture()
	if f.Settled() {
		t.Fatal("Settled() = true before resolve")
	}
	f.resolve("first", nil)
	f.resolve("second", errors.New("ignored"))

	data, err := f.Result()
	if data != "first" || err != nil {
		t.Errorf("Result() = %v, %v, want first, nil", data, err)
	}
}

func TestFuture_ThenAfterSettleRunsImmediately(t *testing.T) {
	f := Resolved(42, nil)
	called := false
	f.Then(func(data any, err error) {
		called = data == 42 && err == nil
	})
	if !called {
		t.Error("Then on settled future did not run synchronously")
	}
}

func TestAsync(t *testing.T) {
	release := make(chan struct{})
	f := Async(context.Background(), func(context.Context) (any, error) {
		<-release
		return "saved", nil
	})
	if f.Settled() {
		t.Fatal("Settled() = true while running")
	}
	close(release)
	if data, err := waitFuture(t, f); err != nil || data != "saved" {
		t.Errorf("Wait() = %v, %v, want saved, nil", data, err)
	}
}

func TestAsync_PanicRecovered(t *testing.T) {
	f := Async(context.Background(), func(context.Context) (any, error) {
		panic("bad payload")
	})
	if _, err := waitFuture(t, f); !errors.Is(err, ErrFetcherPanic) {
		t.Errorf("Wait() error = %v, want ErrFetcherPanic", err)
	}
}
