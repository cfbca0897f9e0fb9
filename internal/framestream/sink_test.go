package framestream

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mikeyg42/circlecam/internal/framestream/streamtest"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSinkMetadataAndFrames(t *testing.T) {
	sink := NewSink(zap.NewNop())
	if !sink.Paused() {
		t.Fatal("unbound sink should report paused")
	}
	if _, _, ok := sink.Metadata(); ok {
		t.Fatal("metadata should be pending before any frame")
	}

	stream := streamtest.New("cam-1", streamtest.Frame(640, 480))
	sink.Bind(context.Background(), stream)
	defer func() {
		stream.Stop()
		sink.Unbind()
	}()

	waitFor(t, "metadata", func() bool { _, _, ok := sink.Metadata(); return ok })
	w, h, _ := sink.Metadata()
	if w != 640 || h != 480 {
		t.Fatalf("metadata = %dx%d, want 640x480", w, h)
	}
	if sink.Paused() || sink.Ended() {
		t.Fatal("bound sink should be neither paused nor ended")
	}

	waitFor(t, "second frame", func() bool { _, seq, _ := sink.Frame(); return seq >= 2 })
	img, _, ok := sink.Frame()
	if !ok || img.Bounds().Dx() != 640 {
		t.Fatal("expected latest frame")
	}
	if sink.StreamID() != "cam-1" {
		t.Fatalf("StreamID = %q, want cam-1", sink.StreamID())
	}
}

func TestSinkReleasesDriverBuffers(t *testing.T) {
	sink := NewSink(zap.NewNop())
	stream := streamtest.New("cam-1", streamtest.Frame(32, 24))
	sink.Bind(context.Background(), stream)

	waitFor(t, "frames", func() bool { return stream.Reads() >= 5 })
	stream.Stop()
	sink.Unbind()

	if stream.Reads() != stream.Released() {
		t.Fatalf("reads=%d released=%d; every driver buffer must be released", stream.Reads(), stream.Released())
	}
}

func TestSinkEndedWhenStreamStops(t *testing.T) {
	sink := NewSink(zap.NewNop())
	stream := streamtest.New("cam-1", streamtest.Frame(32, 24))
	sink.Bind(context.Background(), stream)
	waitFor(t, "metadata", func() bool { _, _, ok := sink.Metadata(); return ok })

	// Device revoked from underneath the sink.
	stream.Stop()
	waitFor(t, "ended", sink.Ended)
	if sink.Err() == nil {
		t.Fatal("ended stream should record its read error")
	}

	sink.Unbind()
	if !sink.Paused() {
		t.Fatal("sink should be paused after unbind")
	}
}

func TestSinkRebindResetsState(t *testing.T) {
	sink := NewSink(zap.NewNop())
	first := streamtest.New("cam-1", streamtest.Frame(64, 48))
	sink.Bind(context.Background(), first)
	waitFor(t, "first metadata", func() bool { _, _, ok := sink.Metadata(); return ok })

	first.Stop()
	second := streamtest.New("cam-2", streamtest.Frame(320, 240))
	sink.Bind(context.Background(), second)
	defer func() {
		second.Stop()
		sink.Unbind()
	}()

	waitFor(t, "second metadata", func() bool { w, _, ok := sink.Metadata(); return ok && w == 320 })
	if sink.Ended() {
		t.Fatal("rebinding should clear the ended flag")
	}
	if sink.StreamID() != "cam-2" {
		t.Fatalf("StreamID = %q, want cam-2", sink.StreamID())
	}
}
