package fetch

import (
	"errors"
	"testing"
)

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"HTTPS://Example.COM/a?b=2&a=1", "https://example.com/a?a=1&b=2"},
		{"https://example.com:443/a#frag", "https://example.com/a"},
		{"http://example.com", "http://example.com/"},
		{"https://example.com/a?utm_source=x&utm_medium=y&fbclid=z&id=3", "https://example.com/a?id=3"},
		{"https://bücher.example/x", "https://xn--bcher-kva.example/x"},
	}
	for _, tt := range tests {
		got, err := Canonicalize(tt.in)
		if err != nil {
			t.Errorf("Canonicalize(%q) error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Canonicalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	if _, err := Canonicalize("ftp://example.com/file"); !errors.Is(err, ErrInvalidURL) {
		t.Errorf("ftp scheme should be invalid, got %v", err)
	}
}

func TestDomain(t *testing.T) {
	tests := map[string]string{
		"https://www.reuters.com/markets/":   "reuters.com",
		"https://markets.ft.com/data":        "markets.ft.com",
		"https://WWW.BBC.co.uk/news":         "bbc.co.uk",
		"https://www2.example.com/x":         "www2.example.com",
		"https://edition.cnn.com:8443/world": "edition.cnn.com",
	}
	for in, want := range tests {
		got, err := Domain(in)
		if err != nil {
			t.Errorf("Domain(%q) error: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("Domain(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestHashURLStable(t *testing.T) {
	a := HashURL("https://example.com/a")
	if a != HashURL("https://example.com/a") {
		t.Error("hash not stable")
	}
	if a == HashURL("https://example.com/b") {
		t.Error("different urls share a hash")
	}
	if len(a) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(a))
	}
}

func TestOnDomain(t *testing.T) {
	surfaces := []string{"news.google.com"}
	if !OnDomain("news.google.com", surfaces) {
		t.Error("exact match missed")
	}
	if OnDomain("google.com", surfaces) {
		t.Error("parent domain must not match")
	}
}
