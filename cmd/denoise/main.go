// Command denoise applies the smart denoise filter to a PNG or TIFF image.
//
//	denoise [flags] <input> <output> <fragment|compute> [sigma kSigma threshold]
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "denoise:", err)
		os.Exit(1)
	}
}
