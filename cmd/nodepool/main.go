package main

import "github.com/vietddude/nodepool/internal/cli"

func main() {
	cli.Execute()
}
