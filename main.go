package main

import "github.com/sap-gg/azrelay/cmd"

func main() {
	cmd.Execute()
}
