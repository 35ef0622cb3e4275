package main

import "replaytrim/internal/cli"

func main() {
	cli.Execute()
}
