package main

// General API documentation for swaggo. Run `swag init -g cmd/prunejuiced/docs.go`
// to regenerate the docs package.
//
// @title           prunejuice API
// @version         1.0
// @description     Local text-to-image generation backend: model lifecycle, device memory management and image generation.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
//
// @securityDefinitions.apikey  BridgeToken
// @in                          header
// @name                        Authorization
// @description                 "Bearer " followed by the contents of .bridge_token
