package ldb

// RedoVisitor is the external replay driver's interface, per §6: one method
// per log record kind, each returning whether replay should continue. No
// replayer lives in this module — replay is explicitly out of scope — but
// tests need something satisfying the interface.
type RedoVisitor interface {
	Reset() bool
	Timestamp(t int64) bool
	Shutdown(t int64) bool
	Close(t int64) bool
	EndFile(t int64) bool
	Store(indexID uint64, key, value []byte) bool
	StoreNoLock(indexID uint64, key, value []byte) bool
	DropIndex(indexID uint64) bool
	RenameIndex(indexID uint64, newName string) bool
	TxnEnter(txnID int64) bool
	TxnRollback(txnID int64) bool
	TxnRollbackFinal(txnID int64) bool
	TxnCommit(txnID int64) bool
	TxnCommitFinal(txnID int64) bool
	TxnStore(txnID int64, indexID uint64, key, value []byte) bool
	TxnStoreCommitFinal(txnID int64, indexID uint64, key, value []byte) bool
}

// NopRedoVisitor satisfies RedoVisitor by continuing on every record,
// useful for tests that don't exercise redo replay.
type NopRedoVisitor struct{}

func (NopRedoVisitor) Reset() bool                                           { return true }
func (NopRedoVisitor) Timestamp(int64) bool                                  { return true }
func (NopRedoVisitor) Shutdown(int64) bool                                   { return true }
func (NopRedoVisitor) Close(int64) bool                                      { return true }
func (NopRedoVisitor) EndFile(int64) bool                                    { return true }
func (NopRedoVisitor) Store(uint64, []byte, []byte) bool                     { return true }
func (NopRedoVisitor) StoreNoLock(uint64, []byte, []byte) bool               { return true }
func (NopRedoVisitor) DropIndex(uint64) bool                                 { return true }
func (NopRedoVisitor) RenameIndex(uint64, string) bool                       { return true }
func (NopRedoVisitor) TxnEnter(int64) bool                                   { return true }
func (NopRedoVisitor) TxnRollback(int64) bool                                { return true }
func (NopRedoVisitor) TxnRollbackFinal(int64) bool                           { return true }
func (NopRedoVisitor) TxnCommit(int64) bool                                  { return true }
func (NopRedoVisitor) TxnCommitFinal(int64) bool                             { return true }
func (NopRedoVisitor) TxnStore(int64, uint64, []byte, []byte) bool           { return true }
func (NopRedoVisitor) TxnStoreCommitFinal(int64, uint64, []byte, []byte) bool { return true }
