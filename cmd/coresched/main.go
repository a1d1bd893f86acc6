package main

import (
	"os"

	"github.com/ChuLiYu/coresched/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
