package main

import "southwinds.dev/courier/cli/cmd"

func main() {
	cmd.Execute()
}
