package main

import "github.com/queueforge/queueforge/internal/cli"

func main() {
	cli.Execute()
}
