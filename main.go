package main

import "github.com/quorumtrade/oraclelag/cmd"

func main() {
	cmd.Execute()
}
