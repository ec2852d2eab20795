package main

import "github.com/mcprouter/mcprouter/cmd"

func main() {
	cmd.Execute()
}
