package main

import "github.com/goplus/extdep/cmd/extdep/internal"

func main() {
	internal.Execute()
}
