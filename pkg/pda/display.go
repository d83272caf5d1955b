package pda

import (
	"fmt"
	"strings"
)

// FormatBurst renders a decoded burst as one display line: the time since
// the previous burst, the bits packed into hex bytes (grouped by four, with
// violations and errors shown inline), then the raw bits grouped by four.
func FormatBurst(decoded string, sincePrevMs float64) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%6.1fms:\t", sincePrevMs)

	var h uint
	hCount, bCount := 0, 0

	flush := func() {
		if bCount > 0 && bCount%4 == 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%2.2x", h)
		bCount++
		h = 0
		hCount = 0
	}

	for i := 0; i < len(decoded); i++ {
		c := decoded[i]
		if c == '0' || c == '1' {
			h = h<<1 | uint(c-'0')
			hCount++
			if hCount >= 8 {
				flush()
			}
			continue
		}

		if hCount > 0 {
			h <<= uint(8 - hCount)
			flush()
		}
		if bCount > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteByte(c)
		bCount = 4
	}
	if hCount > 0 {
		h <<= uint(8 - hCount)
		flush()
	}

	sb.WriteString(" : ")

	dno := 0
	for i := 0; i < len(decoded); i++ {
		c := decoded[i]
		if c == '0' || c == '1' {
			if dno > 0 && dno%4 == 0 {
				sb.WriteByte(' ')
			}
			sb.WriteByte(c)
			dno++
			continue
		}
		sb.WriteByte(' ')
		sb.WriteByte(c)
		sb.WriteByte(' ')
		dno = 0
	}

	return sb.String()
}
