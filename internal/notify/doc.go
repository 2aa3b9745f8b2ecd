// Package notify defines the notification Event handed from the CoV client to
// its sinks, the Sink interface, the console sink and the Fanout that
// dispatches events to every sink off the BACnet receive loop.
package notify
