package main

import (
	"context"
	"os"

	"github.com/faiz501/bharat-industry/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
