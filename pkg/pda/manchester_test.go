package pda

import "testing"

func TestManchesterDecode(t *testing.T) {
	tests := []struct {
		name    string
		symbols []byte
		want    string
	}{
		{name: "zero one", symbols: []byte{0, 1, 1, 0}, want: "01"},
		{name: "odd trailing symbol", symbols: []byte{0, 1, 1}, want: "0"},
		{name: "single", symbols: []byte{1}, want: ""},
		{name: "empty", symbols: nil, want: ""},
		{name: "missed first symbol", symbols: []byte{0, 0, 1}, want: "*0"},
		{name: "low violation", symbols: []byte{1, 0, 2, 0, 1}, want: "1v0"},
		{name: "high violation", symbols: []byte{3, 1, 0}, want: "^1"},
		{name: "one then low half", symbols: []byte{1, 4, 1}, want: "1v"},
		{name: "zero then long high", symbols: []byte{0, 7, 0}, want: "0^1"},
		{name: "one then long low", symbols: []byte{1, 6, 1}, want: "1v0"},
		{name: "impossible", symbols: []byte{0, 2, 0, 1}, want: "#v0"},
		{name: "garbage", symbols: []byte{9, 0, 1}, want: "X0"},
		{name: "garbage follower", symbols: []byte{0, 9, 0, 1}, want: "X0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ManchesterDecode(tt.symbols); got != tt.want {
				t.Errorf("ManchesterDecode(%v) = %q, want %q", tt.symbols, got, tt.want)
			}
		})
	}
}

func TestFormatBurst(t *testing.T) {
	tests := []struct {
		name    string
		decoded string
		ms      float64
		want    string
	}{
		{
			name:    "two bytes",
			decoded: "1111000010100101",
			want:    "   0.0ms:\tf0a5 : 1111 0000 1010 0101",
		},
		{
			name:    "violation then byte",
			decoded: "v10101011",
			ms:      12.34,
			want:    "  12.3ms:\tv ab :  v 1010 1011",
		},
		{
			name:    "partial byte",
			decoded: "101",
			want:    "   0.0ms:\ta0 : 101",
		},
		{
			name:    "five bytes",
			decoded: "0000000100000010000000110000010000000101",
			ms:      250,
			want:    " 250.0ms:\t01020304 05 : 0000 0001 0000 0010 0000 0011 0000 0100 0000 0101",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatBurst(tt.decoded, tt.ms); got != tt.want {
				t.Errorf("got  %q\nwant %q", got, tt.want)
			}
		})
	}
}
