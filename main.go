package main

import (
	"github.com/luma/respwire/cmd"
)

func main() {
	cmd.Execute()
}
