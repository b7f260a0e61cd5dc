package main

import (
	"os"

	"github.com/brensch/aqingest/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
