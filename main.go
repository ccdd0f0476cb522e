package main

import "github.com/tanq16/turbodl/cmd"

func main() {
	cmd.Execute()
}
