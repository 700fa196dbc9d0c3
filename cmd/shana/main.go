// Package main is the entry point for the shana file chooser router.
package main

func main() {
	Execute()
}
