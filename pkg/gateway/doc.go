// Package gateway implements the two HTTP endpoints of the comic gateway:
// the content endpoint, which forwards catalog requests and rewrites image
// URLs inside JSON responses, and the image endpoint, which streams validated
// image fetches back to the client.
package gateway
