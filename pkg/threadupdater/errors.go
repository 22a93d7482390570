package threadupdater

// notModifiedError and notFoundError let ThreadUpdater special-case two
// FetchedThread error outcomes without importing the fetcher package
// (which in turn imports this package to deliver FetchedThread messages;
// importing it back here would cycle). Any error type with these methods,
// such as those in pkg/fetcher, is recognized.
type notModifiedError interface{ NotModified() bool }
type notFoundError interface{ NotFound() bool }

func isNotModified(err error) bool {
	nm, ok := err.(notModifiedError)
	return ok && nm.NotModified()
}

func isNotFound(err error) bool {
	nf, ok := err.(notFoundError)
	return ok && nf.NotFound()
}
