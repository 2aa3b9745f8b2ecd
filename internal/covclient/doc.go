// Package covclient is the CoV side of the demo. A Subscriber finds the
// target device with a ranged Who-Is, reads its object list and subscribes
// to change-of-value on every object except the device itself. Accepted
// notifications are turned into notify.Events and handed to the sinks.
//
// Each subscription is registered under its process identifier before the
// request goes out, so a notification racing the Simple-ACK is still
// recognised.
package covclient
