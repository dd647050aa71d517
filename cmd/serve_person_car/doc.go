// Package main serves the int8 person/car model over HTTP.
//
//	GET  /version
//	GET  /api/v1/model
//	POST /api/v1/infer   (multipart field "image" or a raw image body)
package main
