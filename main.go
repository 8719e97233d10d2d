package main

import "mpvforge/internal/forge"

func main() {
	forge.Main()
}
