package main

import "github.com/vietddude/facilitator/internal/cli"

func main() {
	cli.Execute()
}
