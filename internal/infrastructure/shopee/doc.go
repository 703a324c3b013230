// Package shopee talks to the Shopee seller centre API with per-shop browser
// headers. It covers the calls the express reconciler needs to send a rider
// back to an order that was already prepared.
package shopee
