package main

import "price-oracle-feed/internal/cli"

func main() {
	cli.Execute()
}
