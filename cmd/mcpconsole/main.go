package main

import (
	"os"

	"mcpconsole-go/cmd/mcpconsole/cmd"
)

func main() {
	if err := cmd.RootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
