// Command docflow runs the document processing daemon and offers queue,
// definition and one-off execution tooling against the configured storage.
package main
