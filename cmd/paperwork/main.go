package main

import (
	"os"

	"github.com/phil777/paperwork/cmd/paperwork/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
