// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package driver_test

import (
	"fmt"
	"log"

	"github.com/gviegas/rgraph/driver"
	"github.com/gviegas/rgraph/driver/null"
)

var (
	drv driver.Driver
	gpu driver.GPU
)

func init() {
	// Select a driver to use.
	drivers := driver.Drivers()
drvLoop:
	for i := range drivers {
		switch drivers[i].Name() {
		case null.Name:
			drv = drivers[i]
			break drvLoop
		}
	}
	if drv == nil {
		log.Fatal("driver.Drivers(): driver not found")
	}
	var err error
	gpu, err = drv.Open()
	if err != nil {
		log.Fatal(err)
	}
}

// Example_renderPass records a single render pass that
// clears a color target and leaves it ready for sampling.
func Example_renderPass() {
	img, err := gpu.NewImage(driver.RGBA8un, driver.Dim3D{Width: 256, Height: 256, Depth: 1}, 1, 1, 1, driver.URenderTarget|driver.UShaderSample)
	if err != nil {
		log.Fatal(err)
	}
	defer img.Destroy()
	view, err := img.NewView(driver.IView2D, 0, 1, 0, 1)
	if err != nil {
		log.Fatal(err)
	}
	defer view.Destroy()

	pass, err := gpu.NewRenderPass(
		[]driver.Attachment{{
			Format:        driver.RGBA8un,
			Samples:       1,
			Load:          [2]driver.LoadOp{driver.LClear, driver.LDontCare},
			Store:         [2]driver.StoreOp{driver.SStore, driver.SDontCare},
			InitialLayout: driver.LUndefined,
			FinalLayout:   driver.LColorTarget,
		}},
		[]driver.Subpass{{Color: []int{0}, DS: -1}},
		[]driver.Dependency{{
			Barrier: driver.Barrier{
				SyncBefore:  driver.STop,
				SyncAfter:   driver.SColorOutput,
				AccessAfter: driver.AColorWrite,
			},
			SrcSubpass: driver.External,
			DstSubpass: 0,
		}},
	)
	if err != nil {
		log.Fatal(err)
	}
	defer pass.Destroy()
	fb, err := pass.NewFB([]driver.ImageView{view}, 256, 256, 1)
	if err != nil {
		log.Fatal(err)
	}
	defer fb.Destroy()

	cb := new(null.CmdBuffer)
	cb.BeginPass(pass, fb, []driver.ClearValue{{Color: [4]float32{0, 0, 0, 1}}})
	cb.Draw("triangle")
	cb.EndPass()
	cb.Transition([]driver.Transition{{
		Barrier: driver.Barrier{
			SyncBefore:   driver.SColorOutput,
			SyncAfter:    driver.SFragmentShading,
			AccessBefore: driver.AColorWrite,
			AccessAfter:  driver.AShaderRead,
		},
		LayoutBefore: driver.LColorTarget,
		LayoutAfter:  driver.LShaderRead,
		IView:        view,
	}})
	fmt.Println(cb)

	// Output:
	// BeginPass 1
	// Draw triangle
	// EndPass
	// Transition color-target->shader-read
}
