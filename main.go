package main

import "github.com/hometownjlu/VMAlloc/cmd"

func main() {
	cmd.Execute()
}
