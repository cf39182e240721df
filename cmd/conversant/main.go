// Package main provides the conversant binary entry point.
package main

import (
	// Register language providers via init()
	_ "github.com/neurodataworks/conversant/llm/providers"

	"github.com/neurodataworks/conversant/commands"
)

func main() {
	commands.Execute()
}
