// Package api hosts the HTTP server, middleware, and handlers. Routes:
//   - GET /make mints a token for a page URL and options.
//   - GET /r/{token} redirects to a freshly chosen image.
//   - GET /j/{token} returns the chosen image as JSON.
//   - GET /debug runs a selection and returns its trace.
//   - GET /health, /healthz, /readyz for probes.
//   - GET /metrics for Prometheus scraping.
package api
