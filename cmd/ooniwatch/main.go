package main

import (
	"ooni-anomaly-watch/internal/cli"
)

func main() {
	cli.Execute()
}
