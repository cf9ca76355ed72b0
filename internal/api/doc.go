// Package api hosts the HTTP server, middleware, and REST handlers of the blog.
// Notable routes:
//   - POST /api/create-article publishes a multipart draft.
//   - GET /api/articles and /api/articles/{slug} read the index and metadata.
//   - POST /api/articles/{slug}/stats bumps an engagement counter.
//   - POST /api/newsletter/subscribe, /api/contact/submit and
//     /api/project-inquiries/submit forward form submissions, throttled per
//     client IP when a limiter is configured.
//   - GET /api/newsletter/subscribers lists the newsletter file (API key).
//   - POST /api/analytics/event records analytics beacons.
//   - GET /articles/{slug}/og serves an article page with preview tags.
//   - GET /metrics for Prometheus scraping.
package api
