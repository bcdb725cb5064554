package main

import "github.com/oshokin/avb-guard/cmd/avbguard/cmd"

func main() {
	cmd.Execute()
}
