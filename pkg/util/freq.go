package util

import "fmt"

func MHzToString(freq float64) string {
	return fmt.Sprintf("%0.4f MHz", freq/1e6)
}
