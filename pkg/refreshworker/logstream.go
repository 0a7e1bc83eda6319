package refreshworker

import (
	"bufio"
	"fmt"
	"os"
	"time"
)

// startPrefixedRedirect pipes everything written to the returned *os.File
// into target, prefixed with "<pid> HH:MM:SS " on every line — the Go
// equivalent of the original's TaskOutputStream, which stamped the same
// prefix onto stdout/stderr inside the forked child. A pipe is needed
// because os.Stdout/os.Stderr are typed *os.File; only a real file
// descriptor (the pipe's write end) can be assigned to them, so the
// prefixing has to happen in a goroutine draining the read end.
//
// The returned stop function must be called (and waited on) before the
// caller exits, or buffered output written just before exit can be lost.
func startPrefixedRedirect(target *os.File, pid int) (write *os.File, stop func(), err error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("create redirect pipe: %w", err)
	}

	start := time.Now()
	done := make(chan struct{})

	go func() {
		defer close(done)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 4096), 1<<20)
		for scanner.Scan() {
			fmt.Fprintf(target, "%d %s %s\n", pid, elapsed(start), scanner.Text())
		}
	}()

	stop = func() {
		_ = w.Close()
		<-done
		_ = r.Close()
	}
	return w, stop, nil
}

func elapsed(start time.Time) string {
	e := time.Since(start)
	h := int(e.Hours())
	m := int(e.Minutes()) % 60
	s := int(e.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
