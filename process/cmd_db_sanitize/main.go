package main

import "docportal/process/sanitize"

func main() {
	sanitize.Run()
}
