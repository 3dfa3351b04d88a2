package main

import "github.com/aweris/objstore/cmd/objstore/cmd"

func main() {
	cmd.Execute()
}
