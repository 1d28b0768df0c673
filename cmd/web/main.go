// Command web serves the ProHappy site and the form submission API.
package main

import "prohappy_backend/internal/app"

func main() {
	app.Run()
}
