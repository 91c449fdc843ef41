package main

import "github.com/XuF163/dingbridge/cmd"

func main() {
	cmd.Execute()
}
