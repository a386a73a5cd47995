package main

import "github.com/recway/roadquality/server/cmd/roadscan/cmd"

func main() {
	cmd.Execute()
}
