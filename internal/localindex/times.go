package localindex

import (
	"os"
	"syscall"
)

// fileTimes returns a file's modification and change time in Unix
// milliseconds. mtime comes from info.ModTime(); ctime is read from the
// platform Stat_t, since os.FileInfo exposes no portable ctime accessor.
func fileTimes(info os.FileInfo) (ctimeMs, mtimeMs int64) {
	mtimeMs = info.ModTime().UnixMilli()

	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return mtimeMs, mtimeMs
	}
	ctimeMs = stat.Ctim.Sec*1000 + stat.Ctim.Nsec/1_000_000
	return ctimeMs, mtimeMs
}
