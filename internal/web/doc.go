// Package web provides the browser-facing surface of convo-console.
//
// # Overview
//
// The console page embeds the messenger widget and a small shim script. The
// shim forwards raw widget signals and renders whatever state the server
// sends back; all capture and persistence logic runs server-side.
//
// # Routes
//
//	GET    /                                  console page
//	GET    /static/shim.js                    browser shim
//	GET    /api/state                         session state snapshot
//	POST   /api/conversations                 create and activate
//	POST   /api/conversations/{id}/select     activate
//	DELETE /api/conversations/{id}            delete
//	POST   /api/conversations/{id}/report     generate and attach a report
//	GET    /api/conversations/{id}/report     stored report (?format=md downloads)
//	GET    /api/projects                      project list and summary
//	POST   /api/projects                      replace project list (JSON array)
//	POST   /api/signals                       signal batch fallback
//	GET    /api/signals/ws                    signal WebSocket
//
// # Signal WebSocket
//
// Inbound text messages are capture.Signal values. Outbound messages are
// console.Frame values: a state frame on connect and after each change, and
// widget-reset frames telling the shim to drop the widget's session keys.
//
// # Sessions
//
// Routes expect auth.SessionMiddleware to have resolved the tab session.
// Each session is served by its own console.Console from the Hub.
package web
