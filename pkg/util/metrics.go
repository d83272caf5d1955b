package util

import "time"

// TimeOperationMicroseconds runs op and reports its wall time, the unit
// every duration field in the influx points uses.
func TimeOperationMicroseconds(op func()) int64 {
	start := time.Now()
	op()
	return time.Since(start).Microseconds()
}
