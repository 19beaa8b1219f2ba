package testutil

import "github.com/tandemlabs/tandem/internal/op"

// FixedInstanceID is the origin id used by operation fixtures. Tests
// that need a second instance derive their own ids.
const FixedInstanceID = "tandem-test-0000"

// InsertOp returns a deterministic insert operation stamped with the
// given timestamp. Position is pinned to line 1, column 1 so golden
// output stays stable.
func InsertOp(path, content string, ts int64) op.Operation {
	o := op.NewInsert(path, 1, 1, []byte(content))
	o.TimestampNanos = ts
	o.OriginInstanceID = FixedInstanceID
	return o
}

// DeleteOp returns a deterministic delete operation carrying the
// removed content, as reversal requires.
func DeleteOp(path, content string, ts int64) op.Operation {
	o := op.NewDelete(path, 1, 1, []byte(content))
	o.TimestampNanos = ts
	o.OriginInstanceID = FixedInstanceID
	return o
}

// ReplaceOp returns a deterministic replace operation with both the
// new content and the pre-image set.
func ReplaceOp(path, content, prev string, ts int64) op.Operation {
	o := op.NewReplace(path, 1, 1, []byte(content), []byte(prev))
	o.TimestampNanos = ts
	o.OriginInstanceID = FixedInstanceID
	return o
}
