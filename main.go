package main

import "skillsim/internal/cli"

func main() {
	cli.Execute()
}
