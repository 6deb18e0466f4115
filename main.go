package main

import "github.com/taintline/taintline/cmd/taintline"

func main() { taintline.Execute() }
