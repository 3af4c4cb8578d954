package main

import "FaceVerify/cmd"

func main() {
	cmd.Execute()
}
