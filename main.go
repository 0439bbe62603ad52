package main

import "github.com/thindl/thindl/cmd"

func main() {
	cmd.Execute()
}
