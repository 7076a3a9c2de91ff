package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// errFatal marks an emission that ended with a fatal handler error.
var errFatal = errors.New("emission stopped by a fatal handler error")

func exitCode(err error) int {
	if errors.Is(err, errFatal) {
		return 2
	}
	return 1
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
