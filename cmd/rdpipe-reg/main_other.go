//go:build !windows

package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Fprintln(os.Stderr, "rdpipe-reg manages Windows registry entries and only runs on Windows")
	os.Exit(1)
}
