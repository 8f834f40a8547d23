// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the JSON HTTP API of the chat front end.
//
// Every browser connection holds an opaque cookie token that the session
// Manager maps to a Controller. Handlers translate requests into Controller
// operations and domain errors into status codes (see StatusFor).
//
// # Endpoints
//
//   - POST   /api/register                    - create an account
//   - POST   /api/login                       - authenticate, sets the session cookie
//   - POST   /api/logout                      - drop the connection state
//   - GET    /api/state                       - context, busy flag and current page
//   - GET    /api/models, PUT /api/model      - model catalog and selection
//   - PUT    /api/page                        - move the transcript view
//   - GET    /api/sessions                    - saved conversations, newest first
//   - POST   /api/sessions/new                - start a new conversation
//   - POST   /api/sessions/{id}/open          - open a saved conversation
//   - DELETE /api/sessions/{id}               - delete one conversation
//   - POST   /api/sessions/delete-all[/cancel|/confirm]
//   - POST   /api/chat                        - send a prompt
//   - GET    /api/export/{format}             - download txt, docx, pdf, xlsx or pptx
//   - POST   /api/upload                      - ask about an uploaded file
//   - GET    /api/usage                       - per-model usage summary
//   - GET    /health                          - health check
//
// # Middleware
//
// Recovery, request ids, security headers, structured request logging and
// a per-IP token bucket wrap every route. Routes under /api other than
// register and login also require a logged-in session cookie.
//
// # Usage
//
//	srv := server.New(server.Deps{Config: cfg, Users: users, Sessions: manager})
//	go srv.Start()
//	defer srv.Shutdown(ctx)
package server
