package main

import "github.com/vietddude/depwatch/internal/cli"

func main() {
	cli.Execute()
}
