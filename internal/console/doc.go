// Package console is an interactive shell for exercising bound devices.
//
// It is started with `pcdcore --shell` and talks to the same registry as
// the daemon. Sessions opened with "open" get a handle that read, write,
// seek and close take. "cat" reproduces the classic read test: open
// read-only, seek (offset 10 from the start by default), then make up to
// two reads and dump what came back.
//
//	pcd> open 0 rw
//	handle 3
//	pcd> write 3 hello
//	wrote 5 bytes
//	pcd> cat 0 5 0
package console
