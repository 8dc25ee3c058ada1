package main

import "chitfund/cmd/chitfund/cmd"

func main() {
	cmd.Execute()
}
