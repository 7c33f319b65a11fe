// Package main is the entry point for the visus application.
package main

import (
	"os"

	"github.com/visus-project/visus/cmd/visus/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
