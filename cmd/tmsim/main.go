package main

import "github.com/LeJamon/tmsim/internal/cli"

func main() {
	cli.Execute()
}
