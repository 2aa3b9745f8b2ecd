// Command covdemo runs the two halves of the BACnet CoV demo: the point
// creator/updater that drives local points through the gateway's
// Configuration API, and the CoV client that subscribes to those points over
// BACnet/IP.
package main

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	Execute()
}
