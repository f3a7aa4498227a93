package main

import "github.com/kozaktomas/meter-lab/cmd"

func main() {
	cmd.Execute()
}
