package main

import "github.com/oshokin/carbon-gate/cmd/carbon-gate/cmd"

func main() {
	cmd.Execute()
}
