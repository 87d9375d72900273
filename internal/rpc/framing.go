package rpc

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strconv"
	"strings"
)

// DefaultMaxBodySize caps Content-Length framed messages.
const DefaultMaxBodySize = 10 << 20

// readMessage reads one message, either a single JSON line or a
// Content-Length framed body. Blank lines are skipped.
func readMessage(reader *bufio.Reader, maxBodySize int) ([]byte, error) {
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				trimmed := bytes.TrimSpace(line)
				if len(trimmed) == 0 {
					return nil, io.EOF
				}
				return trimmed, nil
			}
			return nil, err
		}

		first := strings.TrimSpace(string(line))
		if first == "" {
			continue
		}
		if !strings.HasPrefix(strings.ToLower(first), "content-length:") {
			return []byte(first), nil
		}

		_, value, _ := strings.Cut(first, ":")
		length, convErr := strconv.Atoi(strings.TrimSpace(value))
		if convErr != nil || length < 0 || length > maxBodySize {
			return []byte(first), nil
		}

		// Skip any further headers up to the blank line.
		for {
			header, err := reader.ReadBytes('\n')
			if err != nil {
				return nil, err
			}
			if len(bytes.TrimSpace(header)) == 0 {
				break
			}
		}

		body := make([]byte, length)
		if _, err := io.ReadFull(reader, body); err != nil {
			return nil, err
		}
		return bytes.TrimSpace(body), nil
	}
}
