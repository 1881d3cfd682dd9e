package main

import "cohortkit/cmd"

func main() {
	cmd.Execute()
}
