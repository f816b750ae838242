package main

import "context"

func main() {
	app := mustBootstrapTripAPI()
	defer app.Close()

	if err := app.Run(); err != nil && err != context.Canceled {
		panic(err)
	}
}
