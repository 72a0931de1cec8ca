package main

import "github.com/colonyops/hive/cmd"

func main() {
	cmd.Execute()
}
