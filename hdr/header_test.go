package hdr

import (
	"bytes"
	"testing"
)

func TestInsertionOrderPreserved(t *testing.T) {
	h := New()
	h.Add("Host", "x")
	h.Add("Accept", "*/*")
	h.Add("Host", "y")

	var got []string
	h.Range(func(canonical, _, value string) bool {
		got = append(got, canonical+"="+value)
		return true
	})
	want := []string{"Host=x", "Accept=*/*", "Host=y"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestPreserveCase(t *testing.T) {
	h := NewPreserveCase()
	h.AddRaw("content-length", "content-length", "5")
	var buf bytes.Buffer
	if err := h.Write(&buf); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "content-length: 5\r\n" {
		t.Fatalf("got %q", buf.String())
	}
}

func TestSetReplacesAll(t *testing.T) {
	h := New()
	h.Add("X-A", "1")
	h.Add("X-A", "2")
	h.Set("X-A", "3")
	if vs := h.Values("X-A"); len(vs) != 1 || vs[0] != "3" {
		t.Fatalf("got %v", vs)
	}
}

func TestStripHopByHop(t *testing.T) {
	h := New()
	h.Add(Connection, "close, X-Custom")
	h.Add("X-Custom", "drop-me")
	h.Add(TransferEncoding, ValueChunked)
	h.Add(ContentType, "text/plain")
	StripHopByHop(h)
	if h.Has(Connection) || h.Has(TransferEncoding) || h.Has("X-Custom") {
		t.Fatalf("hop-by-hop headers survived: %v", h.Names())
	}
	if !h.Has(ContentType) {
		t.Fatal("content-type should survive")
	}
}

func TestCanonicalHeaderKey(t *testing.T) {
	cases := map[string]string{
		"content-length": "Content-Length",
		"HOST":           "Host",
		"x-custom-id":    "X-Custom-Id",
	}
	for in, want := range cases {
		if got := CanonicalHeaderKey(in); got != want {
			t.Errorf("CanonicalHeaderKey(%q) = %q, want %q", in, got, want)
		}
	}
}
