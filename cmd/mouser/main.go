package main

import "mouser/internal/cli"

func main() {
	cli.Execute()
}
