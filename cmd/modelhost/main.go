package main

import (
	"os"

	"modelhost/internal/cli"
)

func main() {
	os.Exit(cli.Main())
}
