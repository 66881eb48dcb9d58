package main

import "github.com/sergev/tmcl/cmd"

func main() {
	cmd.Execute()
}
