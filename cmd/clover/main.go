package main

import (
	"os"

	"github.com/Ramsey-B/clover/internal/cli"
)

var version = "dev"

func main() {
	cli.Version = version
	os.Exit(cli.Execute())
}
