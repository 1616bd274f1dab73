package flows

// Deps groups the flow dependency sets. The engine builds it once in Build and
// delegates each request to the matching Run function.
type Deps struct {
	Reset  ResetDeps
	Change ChangeDeps
}
