// Package flows holds the orchestration behind the engine's reset token and
// password change operations.
//
// Each Run function takes a dependency struct of closures and touches nothing
// else, so flows are tested with plain fakes and the Engine stays thin.
//
// # What this package must NOT do
//
//   - Hold state between calls.
//   - Import the root kennelguard package. Sentinel errors arrive through
//     the Errors field of each dependency set.
package flows
