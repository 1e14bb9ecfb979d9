package main

import "carebot/cmd"

func main() {
	cmd.Execute()
}
