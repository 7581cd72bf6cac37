package fileops

import (
	fserrors "github.com/joe/remotefs/pkg/errors"
	"github.com/joe/remotefs/pkg/filesystem"
)

// OperationType names the kind of an Operation.
type OperationType string

// Operation types.
const (
	TypeCopy   OperationType = "copy"
	TypeDelete OperationType = "delete"
	TypeMove   OperationType = "move"
	TypeRename OperationType = "rename"
)

// Operation is one of Copy, Move, Rename or Delete.
type Operation interface {
	Type() OperationType
	isOperation()
}

// Copy copies every source into Destination, keeping file names.
type Copy struct {
	Sources     []filesystem.FileRef
	Destination filesystem.FileRef
	Overwrite   bool
}

// Move moves every source into Destination, keeping file names. A source is
// only deleted after its transfer fully succeeded.
type Move struct {
	Sources     []filesystem.FileRef
	Destination filesystem.FileRef
	Overwrite   bool
}

// Rename gives File a new name in the same directory.
type Rename struct {
	File    filesystem.FileRef
	NewName string
}

// Delete removes Files, or moves them into a trash directory when
// SoftDelete is set.
type Delete struct {
	Files      []filesystem.FileRef
	SoftDelete bool
}

// Type implements Operation.
func (Copy) Type() OperationType { return TypeCopy }

// Type implements Operation.
func (Move) Type() OperationType { return TypeMove }

// Type implements Operation.
func (Rename) Type() OperationType { return TypeRename }

// Type implements Operation.
func (Delete) Type() OperationType { return TypeDelete }

func (Copy) isOperation()   {}
func (Move) isOperation()   {}
func (Rename) isOperation() {}
func (Delete) isOperation() {}

// UndoOperation is what Undo needs to reverse a finished batch.
//
//   - copy: CopiedFiles are the copies to delete.
//   - move: CopiedFiles[i] goes back to SourceFiles[i].
//   - rename: CopiedFiles[0] gets OldNames[0] back.
//   - delete: CopiedFiles[0] is the trash directory and the rest are the
//     original paths. Without a trash directory the delete was permanent.
type UndoOperation struct {
	// ID is the id of the operation this reverses.
	ID                string
	Type              OperationType
	SourceFiles       []filesystem.FileRef
	DestinationFolder filesystem.FileRef
	CopiedFiles       []filesystem.FileRef
	OldNames          []string
}

// Undoable reports whether Undo can reverse the operation.
func (u *UndoOperation) Undoable() bool {
	if u == nil {
		return false
	}

	if u.Type == TypeDelete {
		return len(u.CopiedFiles) > 1
	}

	return len(u.CopiedFiles) > 0
}

// Result is one of Success, PartialSuccess or Failure.
type Result interface {
	isResult()
}

// Success means every file was handled.
type Success struct {
	Count          int
	Operation      OperationType
	ResultingPaths []filesystem.FileRef
	Undo           *UndoOperation
}

// PartialSuccess means some files failed. ErrorMessages has one entry per
// failed file.
type PartialSuccess struct {
	Succeeded      int
	Failed         int
	ErrorMessages  []string
	ResultingPaths []filesystem.FileRef
	Undo           *UndoOperation
}

// Failure means nothing was done. Message and Kind describe the first error.
type Failure struct {
	Message     string
	Kind        fserrors.Kind
	Suggestions []string
	Err         error
}

func (Success) isResult()        {}
func (PartialSuccess) isResult() {}
func (Failure) isResult()        {}

// Error implements error so a Failure can be returned where an error is
// expected.
func (f Failure) Error() string {
	return f.Message
}

// Unwrap returns the underlying error.
func (f Failure) Unwrap() error {
	return f.Err
}
