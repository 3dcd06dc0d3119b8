package ring

import (
	"bytes"
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	b := New(1024)
	b.Write([]byte("hello "))
	b.Write([]byte("world"))

	data, next, err := b.ReadFrom(0)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if string(data) != "hello world" {
		t.Fatalf("data = %q", data)
	}
	if next != 11 {
		t.Fatalf("next = %d, want 11", next)
	}
}

func TestReadFromCaughtUp(t *testing.T) {
	b := New(64)
	b.Write([]byte("abc"))
	data, next, err := b.ReadFrom(3)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if len(data) != 0 {
		t.Fatalf("expected empty data, got %q", data)
	}
	if next != 3 {
		t.Fatalf("next = %d, want 3", next)
	}
}

func TestTruncation(t *testing.T) {
	b := New(8)
	b.Write([]byte("0123456789")) // 10 bytes into an 8-byte ring
	if _, _, err := b.ReadFrom(0); err != ErrTruncated {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
	data, next, err := b.ReadFrom(2)
	if err != nil {
		t.Fatalf("ReadFrom(2): %v", err)
	}
	if string(data) != "23456789" {
		t.Fatalf("data = %q", data)
	}
	if next != 10 {
		t.Fatalf("next = %d", next)
	}
}

func TestWriteLargerThanCapacity(t *testing.T) {
	b := New(4)
	b.Write([]byte("abcdefgh"))
	if b.TotalWritten() != 8 {
		t.Fatalf("total = %d, want 8", b.TotalWritten())
	}
	data, _, err := b.ReadFrom(4)
	if err != nil {
		t.Fatalf("ReadFrom(4): %v", err)
	}
	if string(data) != "efgh" {
		t.Fatalf("data = %q", data)
	}
}

func TestWrapAroundMultipleWrites(t *testing.T) {
	b := New(8)
	for i := 0; i < 5; i++ {
		b.Write([]byte("ab"))
	}
	data, next, err := b.ReadFrom(2)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if next != 10 {
		t.Fatalf("next = %d, want 10", next)
	}
	if !bytes.Equal(data, []byte("ababababab")[len("ababababab")-len(data):]) {
		t.Fatalf("data = %q", data)
	}
}

func TestConcurrentReadersDuringWrite(t *testing.T) {
	b := New(1 << 16)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			b.Write([]byte("x"))
		}
		close(done)
	}()
	for i := 0; i < 100; i++ {
		b.ReadFrom(0)
	}
	<-done
}
