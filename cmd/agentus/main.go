package main

import "github.com/fatihaltiok/Agentus-Timus-sub001/internal/cli"

func main() {
	cli.Execute()
}
