// Package auth provides HTTP authentication for caffeinestack-server.
//
// Middleware(opts, next) wraps an http.Handler and enforces one of three modes:
//
//   - "none"   every request passes through.
//   - "apikey" the request must carry the configured key in opts.Header.
//     When the key is empty all requests pass (local development).
//   - "jwt"    the request must carry "Authorization: Bearer <token>" where
//     the token was issued by IssueToken with the same secret. The token's
//     user id is stored in the request context (UserIDFromContext).
//
// Requests for which opts.Public returns true skip authentication.
//
// HashPassword and CheckPassword wrap bcrypt for stored credentials.
package auth
