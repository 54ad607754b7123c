// Package server implements the HTTP server of Form Drop: static files for
// GET, a rendered form page for POST, and multipart uploads on POST /upload.
// It also carries the optional integrations that act on stored uploads
// (MinIO mirror, PostgreSQL audit, Kafka and webhook events) and the ops
// endpoints used by the production binary.
package server
