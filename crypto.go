package ldb

// Crypto is the page cipher a CryptoPageStore wraps a PageStore with,
// grounded in CryptoPageArray.java: decrypt after read, encrypt into a
// fresh buffer before write.
type Crypto interface {
	DecryptPage(id PageID, buf []byte) error
	EncryptPage(id PageID, buf []byte, dst []byte) error
}

// CryptoPageStore decorates a PageStore with a Crypto, exactly per
// CryptoPageArray.java: every method but ReadPage/WritePage is a pure
// passthrough, and WritePage always encrypts into a newly allocated buffer
// because the caller's buffer contents may be mutated concurrently after
// the call returns.
type CryptoPageStore struct {
	source PageStore
	crypto Crypto
}

func NewCryptoPageStore(source PageStore, crypto Crypto) *CryptoPageStore {
	return &CryptoPageStore{source: source, crypto: crypto}
}

func (c *CryptoPageStore) PageSize() int { return c.source.PageSize() }

func (c *CryptoPageStore) PageCount() (uint64, error) { return c.source.PageCount() }

func (c *CryptoPageStore) ReadPage(id PageID, buf []byte) error {
	if err := c.source.ReadPage(id, buf); err != nil {
		return err
	}
	return c.crypto.DecryptPage(id, buf)
}

func (c *CryptoPageStore) WritePage(id PageID, buf []byte) error {
	encrypted := make([]byte, c.source.PageSize())
	if err := c.crypto.EncryptPage(id, buf, encrypted); err != nil {
		return err
	}
	return c.source.WritePage(id, encrypted)
}

func (c *CryptoPageStore) Allocate() (PageID, error) { return c.source.Allocate() }

func (c *CryptoPageStore) Sync(metadata bool) error { return c.source.Sync(metadata) }

func (c *CryptoPageStore) IsReadOnly() bool { return c.source.IsReadOnly() }

func (c *CryptoPageStore) Close() error { return c.source.Close() }
