package main

import "github.com/kiesman99/rastermask/cmd"

func main() {
	cmd.Execute()
}
