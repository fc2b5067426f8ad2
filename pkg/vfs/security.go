package vfs

import "context"

// Operation is an access category checked by a SecurityManager.
type Operation int

const (
	OpView Operation = iota
	OpRead
	OpWrite
	OpCreate
	OpDelete
)

func (o Operation) String() string {
	switch o {
	case OpView:
		return "view"
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpCreate:
		return "create"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// SecurityManager decides whether an operation on a node is allowed.
type SecurityManager interface {
	HasAccess(ctx context.Context, node Node, op Operation) bool
}

// SecurityFunc adapts a function to SecurityManager.
type SecurityFunc func(ctx context.Context, node Node, op Operation) bool

func (f SecurityFunc) HasAccess(ctx context.Context, node Node, op Operation) bool {
	return f(ctx, node, op)
}

// AllowAll grants every operation.
var AllowAll SecurityManager = SecurityFunc(func(context.Context, Node, Operation) bool { return true })
