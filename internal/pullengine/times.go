package pullengine

import "time"

// msToTime converts a milliseconds-since-epoch timestamp, the unit every
// Doc carries mtime/ctime in, to a time.Time suitable for os.Chtimes.
func msToTime(ms int64) time.Time {
	return time.UnixMilli(ms)
}
