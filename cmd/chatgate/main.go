package main

import "github.com/ppiankov/chatgate/internal/cli"

func main() {
	cli.Execute()
}
