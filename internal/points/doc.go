// Package points drives the demo's local points on the point server: it
// clears the server, creates one object per catalog entry and then keeps
// changing their present-values so the CoV client has something to report.
//
// Binary values toggle between 0 and 1. Analog values rise by the catalog
// step and wrap from max back towards min.
package points
