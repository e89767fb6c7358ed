// Package http exposes the feeder API over JSON.
//
// Public endpoints:
//   - POST /users: registers an account. Body: {"email","password","display_name"}.
//   - POST /sessions: issues a session token. Body: {"email","password"}. The token is
//     returned in the body, the `X-Feeder-Session` header and a `feeder_session` cookie.
//
// Every other endpoint requires a session token via `Authorization: Bearer` or the
// `feeder_session` cookie:
//   - DELETE /sessions/current: revokes the caller's token and clears the cookie.
//   - GET /users/me: the caller's account.
//   - GET /feeders, POST /feeders, GET /feeders/{id}, DELETE /feeders/{id}: feeders the
//     caller can see, exchanging the `feederDTO` payload defined in feeder_handler.go.
//   - GET /feeders/{id}/schedules, POST /feeders/{id}/schedules: schedules with their
//     evaluated state; writes answer with collision warnings. See schedule_handler.go.
//   - GET /feeders/{id}/schedules/export: the same listing as an XLSX workbook.
//   - PUT /schedules/{id}, DELETE /schedules/{id}: full replacement and removal.
//   - POST /feeders/{id}/release: dispenses {"feed_amount"} kilograms immediately.
//   - GET /feeders/{id}/invitations, POST /feeders/{id}/invitations: role invitations.
//   - POST /invitations/{token}/accept: redeems an invitation for the caller.
//   - GET /feeders/{id}/grants: collaborators with their role and permissions.
//   - DELETE /feeders/{id}/grants/{userID}: revokes a collaborator holding a lower role.
//
// Request/response DTOs live alongside their respective handlers so tests and
// documentation share the same ground truth.
package http
