// Package testutils provides test doubles shared across filetx test suites.
//
// FileBasedS3Mock implements files.ObjectStore on a temporary directory. It
// records every store call in issue order and can be told to fail specific
// calls, which is what the transaction tests assert against:
//
//	mock, err := testutils.NewFileBasedS3Mock(t.TempDir())
//	mock.Seed("temp/a.txt")
//	mock.FailMove("public/a.txt", "temp/a.txt", errors.New("boom"))
//	svc := files.NewService(mock, files.Options{})
package testutils
