package main

import "github.com/hevelius/hevelius/cmd"

func main() {
	cmd.Execute()
}
