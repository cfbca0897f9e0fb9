package gui

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zserge/lorca"
	"go.uber.org/zap"
)

type fakeUI struct {
	lorca.UI // unused methods panic

	mu       sync.Mutex
	bound    map[string]any
	done     chan struct{}
	closeOne sync.Once
	closes   int
}

func newFakeUI() *fakeUI {
	return &fakeUI{bound: make(map[string]any), done: make(chan struct{})}
}

func (f *fakeUI) Bind(name string, fn interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bound[name] = fn
	return nil
}

func (f *fakeUI) Done() <-chan struct{} { return f.done }

func (f *fakeUI) Close() error {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
	f.closeOne.Do(func() { close(f.done) })
	return nil
}

func withLauncher(t *testing.T, ui *fakeUI, err error) {
	t.Helper()
	orig := launcher
	launcher = func(url string, width, height int) (lorca.UI, error) {
		if err != nil {
			return nil, err
		}
		return ui, nil
	}
	t.Cleanup(func() { launcher = orig })
}

func TestWindowClosedByPage(t *testing.T) {
	ui := newFakeUI()
	withLauncher(t, ui, nil)

	w, err := Open("http://localhost:7000/", 1024, 768, zap.NewNop())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	closeFn, ok := ui.bound["closeWindow"].(func())
	if !ok {
		t.Fatal("closeWindow not bound")
	}
	go closeFn()

	if !w.Wait(context.Background()) {
		t.Fatal("Wait should report a user close")
	}
}

func TestWindowClosedOnCancel(t *testing.T) {
	ui := newFakeUI()
	withLauncher(t, ui, nil)

	w, err := Open("http://localhost:7000/", 800, 600, zap.NewNop())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if w.Wait(ctx) {
		t.Fatal("Wait should report cancellation, not a user close")
	}
	if ui.closes == 0 {
		t.Fatal("window not closed on cancellation")
	}
}

func TestOpenWithoutChrome(t *testing.T) {
	withLauncher(t, nil, ErrNoChrome)
	if _, err := Open("http://localhost:7000/", 800, 600, zap.NewNop()); !errors.Is(err, ErrNoChrome) {
		t.Fatalf("err = %v, want ErrNoChrome", err)
	}
}
