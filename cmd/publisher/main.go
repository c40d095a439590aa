package main

import (
	"os"

	"github.com/alvesdmateus/image-publisher/internal/cli/commands"
)

func main() {
	os.Exit(commands.Execute())
}
