package main

import "github.com/ValentinKolb/layerkv/cmd"

func main() {
	cmd.Execute()
}
