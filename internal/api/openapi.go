package api

import "net/http"

type operation struct {
	summary string
	scope   string
	codes   []string
}

// apiOperations documents the routed endpoints, keyed by path then method.
var apiOperations = map[string]map[string]operation{
	"/tours": {
		"post": {summary: "Start a tour (?wait=true blocks until it finishes)", scope: "tours:rw", codes: []string{"200", "202", "400", "429"}},
		"get":  {summary: "List live and recent tours", scope: "tours:ro", codes: []string{"200"}},
	},
	"/tours/{run_id}": {
		"get": {summary: "Progress of a live tour or summary of a finished one (?full=true for the report)", scope: "tours:ro", codes: []string{"200", "404"}},
	},
	"/tours/{run_id}/{action}": {
		"post": {summary: "pause, resume, stop or trigger a live tour", scope: "tours:rw", codes: []string{"200", "400", "404", "409"}},
	},
	"/events": {
		"get": {summary: "Server-sent tour events (?run_id= to filter)", scope: "events:ro", codes: []string{"200"}},
	},
}

var statusText = map[string]string{
	"200": "OK",
	"202": "Accepted",
	"400": "Bad request",
	"404": "Not found",
	"409": "Invalid state for this action",
	"429": "Too many concurrent tours",
}

// buildOpenAPIDoc returns an OpenAPI 3.1 document for the tour API.
func buildOpenAPIDoc() map[string]any {
	paths := map[string]any{}
	for path, methods := range apiOperations {
		item := map[string]any{}
		for method, op := range methods {
			responses := map[string]any{}
			for _, code := range op.codes {
				responses[code] = map[string]any{"description": statusText[code]}
			}
			responses["401"] = map[string]any{"description": "Unauthorized"}
			responses["403"] = map[string]any{"description": "Insufficient scope"}
			item[method] = map[string]any{
				"summary":     op.summary,
				"security":    []map[string][]string{{"BearerAuth": {}}},
				"x-scope":     op.scope,
				"responses":   responses,
				"operationId": method + " " + path,
			}
		}
		paths[path] = item
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "Tourguide",
			"version": "1.0",
		},
		"paths": paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		},
	}
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc())
}
