package main

import (
	"trade-guardian/internal/cli"
)

func main() {
	cli.Execute()
}
