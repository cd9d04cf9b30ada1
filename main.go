package main

import "github.com/notargets/amrcomm/cmd"

func main() {
	cmd.Execute()
}
