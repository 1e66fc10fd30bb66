package main

import "webrtc-rendezvous/cmd"

func main() {
	cmd.Execute()
}
