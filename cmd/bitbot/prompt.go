package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// promptCount asks for the exchanges per account until it gets a positive
// integer. Values above limit are lowered to it.
func promptCount(reader *bufio.Reader, out io.Writer, limit int) (int, error) {
	for {
		fmt.Fprint(out, "Exchanges per account: ")
		line, err := reader.ReadString('\n')
		line = strings.TrimSpace(line)
		if line == "" && err != nil {
			if errors.Is(err, io.EOF) {
				return 0, errors.New("no exchange count given")
			}
			return 0, err
		}
		n, convErr := strconv.Atoi(line)
		switch {
		case convErr != nil:
			fmt.Fprintln(out, "invalid number")
		case n < 1:
			fmt.Fprintln(out, "must be at least 1")
		case n > limit:
			fmt.Fprintf(out, "exceeds the daily limit (%d), adjusting\n", limit)
			return limit, nil
		default:
			return n, nil
		}
		if err != nil {
			return 0, fmt.Errorf("no valid exchange count: %w", err)
		}
	}
}
