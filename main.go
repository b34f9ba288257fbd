package main

import "github.com/aspenkv/aspen/cmd"

func main() {
	cmd.Execute()
}
