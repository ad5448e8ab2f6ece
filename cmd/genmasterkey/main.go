package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/harrylevesque/rtdevice/internal/files"
	"github.com/harrylevesque/rtdevice/internal/utils"
)

// genmasterkey writes the key that protects the stored device identity.
// rtdevice creates one on first start when none exists.
func main() {
	dir := flag.String("dir", utils.GetDataDir(), "Directory to write master.key into")
	flag.Parse()

	path, err := files.WriteMasterKey(*dir)
	if err != nil {
		if os.IsExist(err) {
			fmt.Fprintf(os.Stderr, "Error: master.key already exists in %s. Refusing to overwrite.\n", *dir)
		} else {
			fmt.Fprintf(os.Stderr, "Error writing master key: %v\n", err)
		}
		os.Exit(1)
	}
	fmt.Printf("Master key written to %s\n", path)
}
