// Package timeutil provides wall-clock microsecond timestamp helpers and
// a latency histogram for the ingestion pipeline.
package timeutil

import "time"

// NowWallUs returns the current wall-clock time in microseconds since the
// Unix epoch.
func NowWallUs() int64 {
	return time.Now().UnixMicro()
}

// MillisToUs converts a venue's millisecond epoch timestamp to microseconds.
func MillisToUs(ms int64) int64 {
	return ms * 1000
}
