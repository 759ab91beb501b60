package main

import (
	"github.com/ColonelBlimp/hrvmeter/cmd"
	"github.com/ColonelBlimp/hrvmeter/internal/recovery"
)

func main() {
	defer recovery.HandlePanic()
	cmd.Execute()
}
