//go:build !(tinygo && bootdebug)

package app

import "spindle/hal"

func bootDiagSetStep(string) {}

func bootDiagStart(hal.HAL) {}
