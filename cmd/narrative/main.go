package main

import (
	"os"

	"horse.fit/narrative/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
