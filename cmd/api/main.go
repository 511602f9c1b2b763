// Command api serves the ticket resale wallet and settlement HTTP API and runs
// its background sweeps.
package main

import (
	"log"

	"github.com/so2vaso3-web/passve-sub001/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatalf("passve api: %v", err)
	}
}
