package main

import "github.com/si3792/multiagent-distributed-locking/cmd"

func main() {
	cmd.Execute()
}
