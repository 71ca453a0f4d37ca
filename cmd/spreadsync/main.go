package main

import "spread-sync/internal/cli"

func main() {
	cli.Execute()
}
