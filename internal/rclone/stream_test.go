package rclone

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// helperClient returns a Client whose "rclone" is this test binary running
// TestHelperProcess in the given mode.
func helperClient(t *testing.T, mode string) *Client {
	t.Helper()
	t.Setenv("RCINDEX_RCLONE_HELPER", "1")
	t.Setenv("RCINDEX_RCLONE_MODE", mode)
	c := NewClient(os.Args[0], "", testLogger())
	c.baseArgs = []string{"-test.run=^TestHelperProcess$", "--"}
	return c
}

// TestHelperProcess stands in for the rclone binary. It is not a real test.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("RCINDEX_RCLONE_HELPER") != "1" {
		return
	}
	args := os.Args
	for i, a := range args {
		if a == "--" {
			args = args[i+1:]
			break
		}
	}

	recursive := slices.Contains(args, "--recursive") && slices.Contains(args, "--files-only")
	switch os.Getenv("RCINDEX_RCLONE_MODE") {
	case "tree":
		if !recursive {
			fmt.Fprintln(os.Stderr, "expected recursive files-only listing")
			os.Exit(2)
		}
		fmt.Print(`[
{"Path":"a/1.txt","Name":"1.txt","Size":1,"IsDir":false},
{"Path":"a/2.txt","Name":"2.txt","Size":2,"IsDir":false},
{"Path":"b/3.txt","Name":"3.txt","Size":3,"IsDir":false}
]
`)
		os.Exit(0)
	case "no-modtime":
		if !slices.Contains(args, "--no-modtime") {
			fmt.Fprintln(os.Stderr, "expected --no-modtime")
			os.Exit(2)
		}
		fmt.Print(`[
{"Path":"a/1.txt","Name":"1.txt","Size":3,"MimeType":"","ModTime":"","IsDir":false},
{"Path":"a/2.txt","Name":"2.txt","Size":4,"MimeType":"","ModTime":"","IsDir":false}
]
`)
		os.Exit(0)
	case "list":
		fmt.Print(`[{"Path":"a","Name":"a","Size":-1,"IsDir":true},{"Path":"x.txt","Name":"x.txt","Size":5,"IsDir":false,"ModTime":"2026-01-02T03:04:05.123456789Z"}]`)
		os.Exit(0)
	case "empty":
		fmt.Print("[]")
		os.Exit(0)
	case "notfound":
		fmt.Fprintln(os.Stderr, "error listing: directory not found")
		os.Exit(3)
	case "fail-mid":
		fmt.Print(`[{"Path":"a/1.txt","Name":"1.txt","IsDir":false},`)
		fmt.Fprintln(os.Stderr, "connection reset")
		os.Exit(1)
	case "garbage":
		fmt.Print("this is not json")
		os.Exit(0)
	case "hang":
		fmt.Print(`[{"Path":"a/1.txt","Name":"1.txt","IsDir":false},`)
		_ = os.Stdout.Sync()
		time.Sleep(30 * time.Second)
		os.Exit(0)
	}
	os.Exit(0)
}

func TestEntryDecoder(t *testing.T) {
	d := newEntryDecoder(strings.NewReader(`[{"Path":"a/1.txt","IsDir":false},{"Path":"a","IsDir":true}]`))

	e, err := d.next()
	if err != nil || e.Path != "a/1.txt" || e.IsDir {
		t.Fatalf("first = %+v, %v", e, err)
	}
	e, err = d.next()
	if err != nil || e.Path != "a" || !e.IsDir {
		t.Fatalf("second = %+v, %v", e, err)
	}
	if _, err := d.next(); !errors.Is(err, io.EOF) {
		t.Fatalf("third err = %v, want io.EOF", err)
	}
	if _, err := d.next(); !errors.Is(err, io.EOF) {
		t.Fatalf("after end err = %v, want io.EOF", err)
	}
	if d.count != 2 {
		t.Errorf("count = %d, want 2", d.count)
	}
}

func TestEntryDecoder_Truncated(t *testing.T) {
	d := newEntryDecoder(strings.NewReader(`[{"Path":"a/1.txt"},{"Path":`))
	if _, err := d.next(); err != nil {
		t.Fatalf("first: %v", err)
	}
	_, err := d.next()
	if err == nil || errors.Is(err, io.EOF) {
		t.Fatalf("err = %v, want a decode error other than io.EOF", err)
	}
}

func TestEntryDecoder_NotAnArray(t *testing.T) {
	d := newEntryDecoder(strings.NewReader(`{"Path":"a"}`))
	if _, err := d.next(); err == nil {
		t.Fatal("expected error for non-array input")
	}
}

func TestStream_Tree(t *testing.T) {
	c := helperClient(t, "tree")
	s, err := c.Stream(context.Background(), "drive", "")
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer s.Close() //nolint:errcheck

	var paths []string
	for {
		e, err := s.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		paths = append(paths, e.Path)
	}
	want := []string{"a/1.txt", "a/2.txt", "b/3.txt"}
	if !slices.Equal(paths, want) {
		t.Errorf("paths = %v, want %v", paths, want)
	}
	if s.dec.count != 3 {
		t.Errorf("decoded %d entries, want 3", s.dec.count)
	}
}

func TestStream_NoModTime(t *testing.T) {
	c := helperClient(t, "no-modtime")
	s, err := c.Stream(context.Background(), "drive", "")
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer s.Close() //nolint:errcheck

	var got []Entry
	for {
		e, err := s.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		got = append(got, e)
	}
	if len(got) != 2 {
		t.Fatalf("entries = %+v, want 2", got)
	}
	if got[0].Path != "a/1.txt" || got[0].Size != 3 || !got[0].ModTime.IsZero() {
		t.Errorf("first = %+v", got[0])
	}
}

func TestEntryDecoder_EmptyModTime(t *testing.T) {
	d := newEntryDecoder(strings.NewReader(`[{"Path":"x.bin","Name":"x.bin","Size":9,"ModTime":"","IsDir":false}]`))
	e, err := d.next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if e.Path != "x.bin" || e.Size != 9 {
		t.Errorf("entry = %+v", e)
	}
}

func TestStream_Empty(t *testing.T) {
	c := helperClient(t, "empty")
	s, err := c.Stream(context.Background(), "drive", "")
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer s.Close() //nolint:errcheck
	if _, err := s.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("Next err = %v, want io.EOF", err)
	}
}

func TestStream_NonZeroExitBeforeData(t *testing.T) {
	c := helperClient(t, "notfound")
	s, err := c.Stream(context.Background(), "drive", "missing")
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer s.Close() //nolint:errcheck

	_, err = s.Next()
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Next err = %v, want ErrNotFound", err)
	}
}

func TestStream_FailsMidway(t *testing.T) {
	c := helperClient(t, "fail-mid")
	s, err := c.Stream(context.Background(), "drive", "")
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer s.Close() //nolint:errcheck

	if _, err := s.Next(); err != nil {
		t.Fatalf("first Next: %v", err)
	}
	_, err = s.Next()
	if err == nil || errors.Is(err, io.EOF) {
		t.Fatalf("second Next err = %v, want failure", err)
	}
}

func TestStream_Garbage(t *testing.T) {
	c := helperClient(t, "garbage")
	s, err := c.Stream(context.Background(), "drive", "")
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer s.Close() //nolint:errcheck
	if _, err := s.Next(); err == nil || errors.Is(err, io.EOF) {
		t.Fatalf("Next err = %v, want decode failure", err)
	}
}

func TestStream_Terminate(t *testing.T) {
	c := helperClient(t, "hang")
	s, err := c.Stream(context.Background(), "drive", "")
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer s.Close() //nolint:errcheck

	if _, err := s.Next(); err != nil {
		t.Fatalf("first Next: %v", err)
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = s.Terminate()
	}()

	done := make(chan error, 1)
	go func() {
		_, err := s.Next()
		done <- err
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected error after Terminate")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Next did not return after Terminate")
	}

	if err := s.Terminate(); err != nil {
		t.Errorf("second Terminate: %v", err)
	}
}

func TestStream_StartFailure(t *testing.T) {
	c := NewClient("/nonexistent/rclone-binary", "", testLogger())
	if _, err := c.Stream(context.Background(), "drive", ""); err == nil {
		t.Fatal("expected error starting a missing binary")
	}
}

func TestList(t *testing.T) {
	c := helperClient(t, "list")
	entries, err := c.List(context.Background(), "drive", "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len = %d, want 2", len(entries))
	}
	if !entries[0].IsDir || entries[1].Name != "x.txt" || entries[1].Size != 5 {
		t.Errorf("entries = %+v", entries)
	}
	if entries[1].ModTime.IsZero() {
		t.Error("expected ModTime to be decoded")
	}
}

func TestList_NotFound(t *testing.T) {
	c := helperClient(t, "notfound")
	_, err := c.List(context.Background(), "drive", "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestTarget(t *testing.T) {
	tests := []struct {
		remote, path, want string
	}{
		{"drive", "", "drive:"},
		{"drive", "a/b", "drive:a/b"},
		{"drive", "/a/b", "drive:a/b"},
	}
	for _, tt := range tests {
		if got := Target(tt.remote, tt.path); got != tt.want {
			t.Errorf("Target(%q, %q) = %q, want %q", tt.remote, tt.path, got, tt.want)
		}
	}
}

func TestLimitedBuffer(t *testing.T) {
	b := &limitedBuffer{limit: 4}
	n, err := b.Write([]byte("abcdef"))
	if err != nil || n != 6 {
		t.Fatalf("Write = %d, %v", n, err)
	}
	_, _ = b.Write([]byte("gh"))
	if b.String() != "abcd" {
		t.Errorf("String = %q, want abcd", b.String())
	}
}
