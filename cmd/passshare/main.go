package main

import (
	"log"

	"github.com/Avinash-006/sdp-kubernetes/cmd/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
