package main

import "github.com/kebairia/b2backup/cmd"

func main() {
	cmd.Execute()
}
