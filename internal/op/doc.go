// Package op defines the Operation value type shared by every other
// internal package.
//
// This package contains type definitions and pure functions only. All
// other internal packages import op; op imports nothing internal. This
// keeps the operation model the foundational layer with no circular
// dependencies.
//
// Key design constraints:
//   - Positions are 1-based and only meaningful for Insert/Delete/Replace
//   - ContentLength always equals len(Content) on a valid operation
//   - File paths are NFC-normalized with forward slashes before they
//     leave this package's constructors
//   - All JSON tags use snake_case
package op
