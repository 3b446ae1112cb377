package main

import "github.com/KaramelBytes/dataforge-cli/cmd"

func main() {
	cmd.Execute()
}
