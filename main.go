package main

import "github.com/ethpandaops/call-tracer/cmd"

func main() {
	cmd.Execute()
}
