package main

import "oi-signals/internal/cli"

func main() {
	cli.Execute()
}
