package connmgr

import (
	"bufio"
	"io"
	"strings"
)

const (
	streamScannerInitialBuffer = 64 * 1024
	streamScannerMaxBuffer     = 10 * 1024 * 1024
)

// readEventStream consumes a text-framed SSE body, invoking onFrame with the
// concatenated data payload of each frame. Returns when the stream ends or
// the read fails; frame validity is the caller's concern.
func readEventStream(body io.Reader, onFrame func(data string)) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, streamScannerInitialBuffer), streamScannerMaxBuffer)

	var data strings.Builder
	flush := func() {
		if data.Len() == 0 {
			return
		}
		frame := data.String()
		data.Reset()
		onFrame(frame)
	}

	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if line == "" {
			flush()
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue // comment / keepalive
		}
		field, value, _ := strings.Cut(line, ":")
		if field != "data" {
			continue // event:, id:, retry: carry nothing we use
		}
		value = strings.TrimPrefix(value, " ")
		if data.Len() > 0 {
			data.WriteByte('\n')
		}
		data.WriteString(value)
	}
	flush()
	return scanner.Err()
}
