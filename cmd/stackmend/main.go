package main

import (
	"os"

	"github.com/stackmend/stackmend/cmd/stackmend/cmds"
)

func main() {
	if err := cmds.New().Execute(); err != nil {
		os.Exit(1)
	}
}
