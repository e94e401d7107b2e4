package main

import "ai-viability-watch/internal/cli"

func main() {
	cli.Execute()
}
