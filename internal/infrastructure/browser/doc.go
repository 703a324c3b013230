// Package browser logs in to Sapo by driving headless Chrome through the
// DevTools protocol and captures the request headers of the Core and
// Marketplace APIs as the web app calls them.
package browser
