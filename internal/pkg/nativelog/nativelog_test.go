package nativelog

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestSubscribeReceivesBroadcast(t *testing.T) {
	id, ch := Subscribe(4)
	defer Unsubscribe(id)

	hub.broadcast("one line")
	select {
	case line := <-ch:
		if line != "one line" {
			t.Fatalf("line = %q", line)
		}
	case <-time.After(time.Second):
		t.Fatal("frame not delivered")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	id, ch := Subscribe(1)
	Unsubscribe(id)

	if _, open := <-ch; open {
		t.Fatal("channel still open after unsubscribe")
	}
	// A second unsubscribe for the same id must be harmless.
	Unsubscribe(id)
}

func TestSlowSubscriberDropsFrames(t *testing.T) {
	id, ch := Subscribe(1)
	defer Unsubscribe(id)

	hub.broadcast("kept")
	hub.broadcast("dropped")

	if line := <-ch; line != "kept" {
		t.Fatalf("line = %q, want the first frame", line)
	}
	select {
	case line := <-ch:
		t.Fatalf("unexpected frame %q past buffer capacity", line)
	default:
	}
}

func TestFileWriterAppendsDailyFile(t *testing.T) {
	t.Setenv(EnvLogDir, t.TempDir())

	w, err := openFileWriter()
	if err != nil {
		t.Fatal(err)
	}
	defer w.Sync()

	if _, err := w.Write([]byte("first\n")); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("second\n")); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(TodayFilePath(time.Now()))
	if err != nil {
		t.Fatal(err)
	}
	if got := string(data); got != "first\nsecond\n" {
		t.Fatalf("file contents = %q", got)
	}
}

func TestFileWriterReopensOnDayChange(t *testing.T) {
	t.Setenv(EnvLogDir, t.TempDir())

	w, err := openFileWriter()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("today\n")); err != nil {
		t.Fatal(err)
	}

	// Force the rollover branch by invalidating the cached day.
	w.mu.Lock()
	w.day = "stdout_0-0-00.log"
	w.mu.Unlock()

	if _, err := w.Write([]byte("after rollover\n")); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(TodayFilePath(time.Now()))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "after rollover") {
		t.Fatalf("rolled file contents = %q", string(data))
	}
}
