package refx

import (
	"bytes"
	"runtime"
	"strconv"
)

// gid returns the calling goroutine's id by parsing the first line of
// its stack trace ("goroutine N [running]:"). Go exposes no API for
// this on purpose; the parse is the standard workaround and costs one
// small stack capture per call. The id is used only as a map key for
// goroutine-scoped state (var bindings, live transactions), never for
// scheduling decisions.
func gid() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return 0
	}
	id, err := strconv.ParseUint(string(fields[1]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
