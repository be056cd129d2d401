package main

import "github.com/mselser95/botledger/cmd"

func main() {
	cmd.Execute()
}
