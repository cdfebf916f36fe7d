package source

import (
	"bufio"
	"bytes"
	"log/slog"
	"os"
)

// exactCountLimit is the number of lines counted before switching to a
// size-based extrapolation.
var exactCountLimit = 100_000

// estimateRecords counts non-blank lines, minus a header when asked. Past
// exactCountLimit lines the remainder is extrapolated from the average line
// length seen so far. Any failure yields 0, meaning unknown.
func estimateRecords(path string, header bool, maxLineBytes int) int64 {
	n, err := countLines(path, exactCountLimit, maxLineBytes)
	if err != nil {
		slog.Warn("Failed to estimate record count", "path", path, "error", err)
		return 0
	}
	if header && n > 0 {
		n--
	}
	return n
}

func countLines(path string, limit, maxLineBytes int) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var lines, consumed int64
	for scanner.Scan() {
		consumed += int64(len(scanner.Bytes())) + 1
		if len(bytes.TrimSpace(scanner.Bytes())) == 0 {
			continue
		}
		lines++
		if lines > int64(limit) {
			avg := float64(consumed) / float64(lines)
			return int64(float64(info.Size()) / avg), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return lines, nil
}
