package main

import (
	"os"

	"github.com/lfarias/goping/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
