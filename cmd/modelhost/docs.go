package main

// General API documentation for swaggo. The served document is
// internal/httpapi/swagger.json (build with -tags=swagger).
//
// @title           modelhost API
// @version         1.0
// @description     HTTP API for local model lifecycle, downloads and capability negotiation.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
