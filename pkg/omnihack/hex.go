package omnihack

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseSecret parses up to eight hex digits, e.g. "c504d891".
func ParseSecret(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	if len(s) == 0 || len(s) > 8 {
		return 0, fmt.Errorf("secret must be 1 to 8 hex digits, got %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid secret %q: %w", s, err)
	}
	return uint32(v), nil
}

// ParseSeqno parses up to two hex digits, e.g. "00".
func ParseSeqno(s string) (uint8, error) {
	s = strings.TrimSpace(s)
	if len(s) == 0 || len(s) > 2 {
		return 0, fmt.Errorf("sequence number must be 1 or 2 hex digits, got %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid sequence number %q: %w", s, err)
	}
	return uint8(v), nil
}
