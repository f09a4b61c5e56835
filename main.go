package main

import "serial-tool/cmd"

func main() {
	cmd.Execute()
}
