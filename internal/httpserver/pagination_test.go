package httpserver

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestListCursorRoundTrip(t *testing.T) {
	encoded := EncodeListCursor("ns1:some/key/with/slashes")
	decoded, err := DecodeListCursor(encoded)
	if err != nil {
		t.Fatalf("DecodeListCursor() error = %v", err)
	}
	if decoded != "ns1:some/key/with/slashes" {
		t.Errorf("decoded = %q, want %q", decoded, "ns1:some/key/with/slashes")
	}
}

func TestDecodeListCursor_Invalid(t *testing.T) {
	_, err := DecodeListCursor("!!!not-base64!!!")
	if err == nil {
		t.Error("DecodeListCursor() should return error for invalid input")
	}
}

func TestParseLimit(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		def     int
		max     int
		want    int
		wantErr bool
	}{
		{name: "default", query: "", def: 50, max: 100, want: 50},
		{name: "custom", query: "limit=10", def: 50, max: 100, want: 10},
		{name: "capped at max", query: "limit=1000", def: 50, max: 100, want: 100},
		{name: "zero rejected", query: "limit=0", def: 50, max: 100, wantErr: true},
		{name: "negative rejected", query: "limit=-5", def: 50, max: 100, wantErr: true},
		{name: "non-numeric rejected", query: "limit=abc", def: 50, max: 100, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/?"+tt.query, nil)
			got, err := ParseLimit(r, tt.def, tt.max)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLimit() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got != tt.want {
				t.Errorf("ParseLimit() = %d, want %d", got, tt.want)
			}
		})
	}
}
