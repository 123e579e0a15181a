package main

import "equity-forecast/internal/cli"

func main() {
	cli.Execute()
}
