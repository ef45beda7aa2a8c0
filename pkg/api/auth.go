package api

import (
	echo "github.com/labstack/echo/v5"
)

// ownerHeaders are the identity headers injected by the auth proxies in
// front of the service, in priority order: oauth2-proxy sets the first two
// for browser sessions, kube-rbac-proxy sets X-Remote-User for service
// accounts.
var ownerHeaders = []string{
	"X-Forwarded-User",
	"X-Forwarded-Email",
	"X-Remote-User",
}

// defaultOwner is assigned when no proxy identity is present, e.g. direct
// API calls inside the cluster.
const defaultOwner = "api-client"

// extractOwner resolves the process owner from the request's proxy headers.
// Ownership gates Get, Subscribe, and Cancel on a process.
func extractOwner(c *echo.Context) string {
	for _, h := range ownerHeaders {
		if v := c.Request().Header.Get(h); v != "" {
			return v
		}
	}
	return defaultOwner
}
