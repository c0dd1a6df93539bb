package main

import (
	"twirlhost/internal/sandbox"
	"twirlhost/internal/sandbox/twirl"
)

func main() {
	sandbox.Serve(twirl.V210())
}
