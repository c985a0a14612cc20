// Package iam (Identity and Access Management) provides the credential
// brokerage core: account + tenant management, session auth, API keys,
// rate limiting, and the unified middleware that authenticates every other
// request in this service.
//
// # Overview
//
// iam is organized into sub-packages that work together:
//
//   - iam/user          — account entity, registration, login, password changes
//   - iam/tenant        — tenant entity and membership
//   - iam/auth          — sessions, JWT access/refresh tokens, unified middleware
//   - iam/apikey        — API key issuance, hashing, and lookup
//   - iam/passwordreset — forgot-password token issuance and redemption
//   - iam/ratelimit     — monthly quota + Redis burst limiting
//   - iam/jwks          — signing key management and public JWK Set
//   - iam/scopes        — scope string parsing and matching
//   - iam/cryptobox     — secretbox-based at-rest encryption for stored secrets
//
// # Architecture
//
// Each sub-package follows the same layering:
//
//	HTTP handler  →  Service  →  Repository interface  →  SQL infra (Postgres/SQLite)
//
// Every sub-package that can fail exposes its own errx registry (e.g. "USER",
// "AUTH", "PASSWORDRESET") so error codes are namespaced per domain rather than
// shared across the whole module.
//
// # Authentication
//
// Two credential shapes reach the same unified middleware
// (auth.UnifiedAuthMiddleware.Authenticate): a bearer JWT access token, or an
// API key in the Authorization/X-API-Key header or api_key query param. Both
// resolve to the same kernel.AuthResult the rest of the service consumes —
// callers downstream of the middleware never need to know which one was used.
//
// # Multi-tenancy
//
// Every user belongs to exactly one tenant. Tenant status gates login:
// suspended or deleted tenants reject authentication before password
// verification even runs.
package iam
