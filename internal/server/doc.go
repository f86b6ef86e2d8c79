// Package server hosts the Fiber HTTP service: request ID and access-log
// middleware, the recipe list endpoints, and the image endpoints that sit in
// front of imageloader. Handlers depend on narrow interfaces (ImageLoader,
// RecipeSource) so tests can inject fakes; main wires the real cache store,
// network client and loader.
package server
