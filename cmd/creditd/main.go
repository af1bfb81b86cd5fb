package main

import (
	"github.com/slawa19/GEOv0-sub001/internal/cli"
)

func main() {
	cli.Execute()
}
