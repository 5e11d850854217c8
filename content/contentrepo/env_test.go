package contentrepo

import "os"

// mongoConnect returns the uri of a replica set used by the mongo tests.
// Transactions need a replica set, a standalone server will not do.
func mongoConnect() string {
	return os.Getenv("QUILL_TEST_MONGO")
}
