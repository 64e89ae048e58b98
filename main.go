package main

import "casetriage/internal/app"

func main() {
	app.Main()
}
