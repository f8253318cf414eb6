// Package webhook accepts routes pushed by a navigation app and starts a tour
// for each one.
//
// Every endpoint shares a secret with the sender. The request body is the
// route document (YAML or JSON) and must carry an HMAC-SHA256 signature of the
// raw body in the configured header, either as plain hex or "sha256=<hex>".
//
//	webhooks:
//	  listen: "127.0.0.1:8081"
//	  endpoints:
//	    - path: /hooks/route
//	      secret: ${ROUTE_WEBHOOK_SECRET}
//	      signature_header: X-Tourguide-Signature
//	      max_body_size: 256KB
//	      mode: duration_proportional
//
// Responses:
//
//	202 tour started, body {"run_id": ...}
//	400 body is not a valid route
//	403 missing or bad signature (no details)
//	413 body exceeds max_body_size
//	429 concurrent tour limit reached
//	503 server is shutting down
package webhook
