// Command denoise-gen writes the WGSL source of every denoise kernel variant
// and a variants.txt manifest listing the dispatch key of each file.
//
//	denoise-gen [--out dir] [--validate] [--spirv] [-v]
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "denoise-gen:", err)
		os.Exit(1)
	}
}
