package api

// buildOpenAPIDoc returns an OpenAPI 3.1 document describing the host API.
func buildOpenAPIDoc() map[string]any {
	bearer := []any{map[string]any{"BearerAuth": []string{}}}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "gaphost",
			"version": "1.0",
		},
		"paths": map[string]any{
			"/healthz": map[string]any{
				"get": operation("healthz", "Host health and queue state", nil, "200"),
			},
			"/exec/{command}": map[string]any{
				"post": withBody(
					secured(operation("exec", "Queue a bridge command", bearer, "202", "400", "403", "503")),
					map[string]any{
						"type": "object",
						"properties": map[string]any{
							"args": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
						},
					},
				),
				"parameters": []any{map[string]any{
					"name":     "command",
					"in":       "path",
					"required": true,
					"schema":   map[string]any{"type": "string", "example": "Device.vibrate"},
				}},
			},
			"/document/ready-state": map[string]any{
				"get": secured(operation("getReadyState", "Current document ready state", bearer, "200")),
				"post": withBody(
					secured(operation("setReadyState", "Advance the document ready state", bearer, "200", "400", "409")),
					map[string]any{
						"type": "object",
						"properties": map[string]any{
							"ready_state": map[string]any{
								"type": "string",
								"enum": []string{"loading", "interactive", "loaded", "complete"},
							},
						},
						"required": []string{"ready_state"},
					},
				),
			},
			"/navigator/device": map[string]any{
				"get": secured(operation("navigatorDevice", "Installed device singleton", bearer, "200", "503")),
			},
			"/journal": map[string]any{
				"get": secured(operation("journal", "Recent bridge calls, newest first", bearer, "200", "400", "404")),
			},
			"/events": map[string]any{
				"get": secured(operation("events", "Server-sent host events", bearer, "200")),
			},
		},
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

func operation(id, summary string, security []any, codes ...string) map[string]any {
	responses := map[string]any{}
	for _, c := range codes {
		responses[c] = map[string]any{"description": statusDescriptions[c]}
	}
	op := map[string]any{
		"operationId": id,
		"summary":     summary,
		"responses":   responses,
	}
	if security != nil {
		op["security"] = security
	}
	return op
}

func secured(op map[string]any) map[string]any {
	responses := op["responses"].(map[string]any)
	responses["401"] = map[string]any{"description": statusDescriptions["401"]}
	return op
}

func withBody(op map[string]any, schema map[string]any) map[string]any {
	op["requestBody"] = map[string]any{
		"required": false,
		"content": map[string]any{
			"application/json": map[string]any{"schema": schema},
		},
	}
	return op
}

var statusDescriptions = map[string]string{
	"200": "OK",
	"202": "Command queued",
	"400": "Bad request",
	"401": "Missing or invalid bearer token",
	"403": "Insufficient scope",
	"404": "Not found",
	"409": "Ready state cannot regress",
	"503": "Unavailable",
}
