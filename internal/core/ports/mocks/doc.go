// Package mocks provides test doubles for ports interfaces.
//
// These mocks are designed to be simple, thread-safe, in-memory implementations
// suitable for unit testing. Each mock provides:
//
//   - Default behavior that mirrors the production contract
//   - Callback functions (xxxFn) for customizing behavior per test
//   - Helper methods for setting and inspecting state directly
//
// # Usage Example
//
//	func TestController(t *testing.T) {
//		store := mocks.NewStore(domain.Bounds{Floor: 10, Ceiling: 10000})
//		content := mocks.NewContentProvider()
//		content.Set(&domain.EpisodeContent{Index: 1, ...})
//
//		ctrl := controller.New(cfg, store, content, oracle, ...)
//		// ... test controller behavior
//	}
//
// # Available Mocks
//
//   - Store: implements ports.Store with copy-on-commit transactions
//   - ContentProvider: implements ports.ContentProvider
//   - Oracle: implements ports.Oracle
//   - CandidateFilter: implements ports.CandidateFilter
//   - Notifier: implements ports.Notifier
package mocks
