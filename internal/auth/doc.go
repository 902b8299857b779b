// Package auth validates bearer tokens for the REST API and the bridge
// WebSocket.
//
// Tokens are HS256 JWTs carrying a subject and a Role. Roles map to a
// static set of permissions:
//
//	viewer    read sessions and profiles, open the bridge, subscribe
//	operator  viewer plus publish, service calls, clearing session views,
//	          reading the audit trail
//	admin     operator plus profile management
//
// An empty signing secret disables authentication entirely; callers treat
// every request as admin in that mode.
package auth
