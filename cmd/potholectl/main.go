// Command potholectl is the operator tool for the pothole report store.
package main

func main() {
	Execute()
}
