package pda

import "strings"

// Slicer symbol codes. Full symbols are 0 (low) and 1 (high). Half-symbol
// widths of 0.5, 1.5 and 2.5 are coded as (n+1)*2 plus 1 when high.
const (
	symLow       byte = 0
	symHigh      byte = 1
	symLowHalf   byte = 2 // v
	symHighHalf  byte = 3 // ^
	symLowHalf1  byte = 4 // v 0
	symHighHalf1 byte = 5 // ^ 1
	symLowHalf2  byte = 6 // 0 v 0
	symHighHalf2 byte = 7 // 1 ^ 1
)

type manchesterStep struct {
	out  string
	next int
	// rewrite the following symbol to this code before continuing, or -1
	rewrite int
}

func step(out string, next int) manchesterStep {
	return manchesterStep{out: out, next: next, rewrite: -1}
}

func stepRewrite(out string, rewrite byte) manchesterStep {
	return manchesterStep{out: out, next: 1, rewrite: int(rewrite)}
}

// manchesterPairs is indexed by [current][following] symbol code.
//
//	'*' lost phase, probably a missed first symbol
//	'#' a combination the slicer should never produce
var manchesterPairs = [8][8]manchesterStep{
	symLow: {
		step("*", 1), step("0", 2), step("#", 1), step("*", 1),
		step("#", 1), step("0^", 2), step("#", 1), stepRewrite("0^", symHigh),
	},
	symHigh: {
		step("1", 2), step("*", 1), step("*", 1), step("#", 1),
		step("1v", 2), step("#", 1), stepRewrite("1v", symLow), step("#", 1),
	},
	symLowHalf1: {
		step("#", 1), step("v0", 2), step("#", 1), step("v*", 1),
		step("#", 1), step("v0^", 2), step("#", 1), stepRewrite("v0^", symHigh),
	},
	symHighHalf1: {
		step("^1", 2), step("#", 1), step("^*", 1), step("#", 1),
		step("^1v", 2), step("#", 1), stepRewrite("^1v", symLow), step("#", 1),
	},
	symLowHalf2: {
		step("#", 1), step("*v0", 2), step("#", 1), step("*", 1),
		step("#", 1), step("*v0v", 2), step("#", 1), stepRewrite("*v0^", symHigh),
	},
	symHighHalf2: {
		step("*^1", 2), step("#", 1), step("*", 1), step("#", 1),
		step("*^1v", 2), step("#", 1), stepRewrite("*^1v", symLow), step("#", 1),
	},
}

// ManchesterDecode turns sliced symbols into bits ('0', '1') and violations
// ('v' low, '^' high), with '*', '#' and 'X' marking decode errors. The
// final symbol is only consumed as part of a pair. symbols may be modified.
func ManchesterDecode(symbols []byte) string {
	var sb strings.Builder
	sb.Grow(len(symbols))

	for i := 0; i < len(symbols)-1; {
		cur := symbols[i]
		switch {
		case cur == symLowHalf:
			sb.WriteString("v")
			i++
			continue
		case cur == symHighHalf:
			sb.WriteString("^")
			i++
			continue
		case cur > symHighHalf2:
			sb.WriteString("X")
			i++
			continue
		}

		following := symbols[i+1]
		if following > symHighHalf2 {
			sb.WriteString("X")
			i += 2
			continue
		}

		st := manchesterPairs[cur][following]
		sb.WriteString(st.out)
		if st.rewrite >= 0 {
			symbols[i+1] = byte(st.rewrite)
		}
		i += st.next
	}

	return sb.String()
}
