package main

import "github.com/metagis/pybridge/cmd"

var version = "v0.3.0"

func main() {
	cmd.Execute(version)
}
