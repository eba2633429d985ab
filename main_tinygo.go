//go:build tinygo

package main

import (
	"spindle/app"
	"spindle/hal"
)

func main() {
	app.Run(hal.New())
}

