// Command list-cameras prints the video input devices the camera driver can
// see, with the facing mode each would be picked for.
package main

import (
	"fmt"
	"log"

	_ "github.com/pion/mediadevices/pkg/driver/camera"

	"github.com/mikeyg42/circlecam/internal/acquire"
)

func main() {
	log.Println("Enumerating available cameras...")

	devices, err := acquire.NewMediaDevices().Devices()
	if err != nil {
		log.Fatalf("Failed to enumerate cameras: %v", err)
	}

	fmt.Println("\n========== AVAILABLE CAMERAS ==========")
	if len(devices) == 0 {
		fmt.Println("No cameras found!")
		return
	}
	for i, d := range devices {
		fmt.Printf("\nCamera %d:\n", i+1)
		fmt.Printf("  Device ID: %s\n", d.ID)
		fmt.Printf("  Label:     %s\n", d.Label)
	}

	fmt.Println("\n========== FACING MODE SELECTION ==========")
	for _, facing := range []acquire.FacingMode{acquire.FacingUser, acquire.FacingEnvironment} {
		if d, ok := acquire.SelectDevice(devices, facing); ok {
			fmt.Printf("%-12s -> %s (%s)\n", facing, d.Label, d.ID)
		}
	}
	fmt.Printf("\nTotal cameras found: %d\n", len(devices))
}
