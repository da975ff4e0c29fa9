//go:build tinygo && baremetal

package main

import (
	"rtslic/app"
	"rtslic/hal"
)

func main() {
	h := hal.New()
	if err := app.Run(h, app.Config{}); err != nil {
		h.Logger().WriteLineString("rtslic: " + err.Error())
	}
	select {}
}
