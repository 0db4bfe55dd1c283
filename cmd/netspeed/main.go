package main

import "github.com/rudransh-shrivastava/netspeed/internal/cli"

func main() {
	cli.Execute()
}
