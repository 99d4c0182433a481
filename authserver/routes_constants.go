package authserver

// Route path constants
const (
	// Credential issuance routes (no bearer token required)
	RouteOTPGenerate = "/auth/otp/generate"
	RouteOTPValidate = "/auth/otp/validate"
	RouteRefresh     = "/auth/refresh"

	// Protected API routes
	RouteMe     = "/api/me"
	RouteFlaky  = "/api/flaky"
	RouteLogout = "/api/logout"
)

const contentTypeJSON = "application/json"
